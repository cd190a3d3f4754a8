package descriptor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
)

// ContainerPort returns the first TCP port the descriptor EXPOSEs, or
// DefaultPort when it declares none we can use. Variable references
// (EXPOSE $PORT) are ignored.
func ContainerPort(root, name string) (nat.Port, error) {
	fallback, _ := nat.NewPort("tcp", strconv.Itoa(DefaultPort))
	if name == "" {
		name = "Dockerfile"
	}
	f, err := os.Open(filepath.Join(root, name))
	if err != nil {
		return "", fmt.Errorf("open descriptor: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !strings.EqualFold(fields[0], "EXPOSE") {
			continue
		}
		for _, raw := range fields[1:] {
			proto, port := nat.SplitProtoPort(raw)
			if proto != "tcp" {
				continue
			}
			if _, err := nat.ParsePort(port); err != nil {
				continue
			}
			p, err := nat.NewPort(proto, port)
			if err != nil || p.Int() == 0 {
				continue
			}
			return p, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read descriptor: %w", err)
	}
	return fallback, nil
}
