package cfg

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/koding/multiconfig"
)

// LoadConfigByDir loads every .toml file under configDir into configPtr,
// environment variables taking precedence over file content.
func LoadConfigByDir(configDir string, configPtr interface{}) error {
	var tBuf []byte

	loaders := []multiconfig.Loader{
		&multiconfig.TagLoader{},
	}

	entries, err := os.ReadDir(configDir)
	if err != nil {
		return err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".toml") {
			files = append(files, filepath.Join(configDir, entry.Name()))
		}
	}
	sort.Strings(files)

	s := NewFileScanner()
	for _, file := range files {
		s.Read(file)
		tBuf = append(tBuf, s.Data()...)
		tBuf = append(tBuf, []byte("\n")...)
	}

	if s.Err() != nil {
		return s.Err()
	}

	if len(tBuf) != 0 {
		loaders = append(loaders, &multiconfig.TOMLLoader{Reader: bytes.NewReader(tBuf)})
	}

	loaders = append(loaders, &multiconfig.EnvironmentLoader{})

	m := multiconfig.DefaultLoader{
		Loader:    multiconfig.MultiLoader(loaders...),
		Validator: multiconfig.MultiValidator(&multiconfig.RequiredValidator{}),
	}

	return m.Load(configPtr)
}
