package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const placeholderIndex = `const express = require('express');
const app = express();
const PORT = process.env.PORT || 3000;

app.get('/', (req, res) => {
  res.send('Hello from OneOps deployed app!');
});

app.listen(PORT, () => {
  console.log(` + "`Server running on port ${PORT}`" + `);
});
`

type packageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Scripts      map[string]string `json:"scripts"`
	Dependencies map[string]string `json:"dependencies"`
}

func writePlaceholder(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	manifest, err := json.MarshalIndent(packageManifest{
		Name:         "deployed-app",
		Version:      "1.0.0",
		Scripts:      map[string]string{"start": "node index.js"},
		Dependencies: map[string]string{"express": "^4.18.0"},
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(root, "package.json"), append(manifest, '\n'), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, "index.js"), []byte(placeholderIndex), 0o644)
}
