package credcache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"
)

// kvFile es un key/value JSON en disco (el equivalente de localStorage para
// el CLI y la app de escritorio). Cada Set reescribe el archivo entero.
type kvFile struct {
	mu   sync.Mutex
	path string
}

func (f *kvFile) load() (map[string]string, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *kvFile) save(m map[string]string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, b, 0o600)
}

func (f *kvFile) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (f *kvFile) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		// Un archivo corrupto no debe bloquear el guardado.
		m = map[string]string{}
	}
	m[key] = value
	return f.save(m)
}

func (f *kvFile) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return removeIfExists(f.path)
	}
	changed := false
	for _, k := range keys {
		if _, ok := m[k]; ok {
			delete(m, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.save(m)
}
