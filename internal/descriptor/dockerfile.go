// Package descriptor makes sure a project tree carries a container build
// descriptor.
package descriptor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDockerfile is written for projects that ship none: a Node service
// listening on 3000 and started with npm start.
const DefaultDockerfile = `FROM node:18-alpine
WORKDIR /app
COPY package*.json ./
RUN npm install
COPY . .
EXPOSE 3000
CMD ["npm", "start"]`

// DefaultPort is the port the generated descriptor exposes.
const DefaultPort = 3000

// Outcome reports which descriptor the build will use.
type Outcome struct {
	// Name is relative to the project root, as the docker build API expects.
	Name      string
	Generated bool
}

// Ensure leaves an existing Dockerfile untouched and writes the default one
// otherwise. Repeated calls are no-ops.
func Ensure(root string) (Outcome, error) {
	name, err := findDockerfile(root)
	if err != nil {
		return Outcome{}, err
	}
	if name != "" {
		return Outcome{Name: name}, nil
	}
	path := filepath.Join(root, "Dockerfile")
	if err := os.WriteFile(path, []byte(DefaultDockerfile), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("write default Dockerfile: %w", err)
	}
	return Outcome{Name: "Dockerfile", Generated: true}, nil
}

func findDockerfile(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("read project root: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(entry.Name(), "dockerfile") {
			return entry.Name(), nil
		}
	}
	return "", nil
}
