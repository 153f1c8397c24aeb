package module

import (
	"klbot/pkg/cachedir"
	"klbot/pkg/faults"
)

// CacheDirPath returns the private directory path of this instance, empty while
// detached.
func (b *Base) CacheDirPath() string {
	host, id := b.registry()
	if host == nil {
		return ""
	}

	return host.ModuleCacheDir(id)
}

// CacheDir opens the private directory of this instance, creating it if needed.
func (b *Base) CacheDir() (*cachedir.Dir, error) {
	path := b.CacheDirPath()
	if path == "" {
		return nil, faults.New(faults.KindModuleAttachment, "", "detached module has no cache directory")
	}

	return cachedir.Open(path)
}

func (b *Base) ReadFileAsString(rel string) (string, error) {
	dir, err := b.CacheDir()
	if err != nil {
		return "", err
	}

	return dir.ReadString(rel)
}

func (b *Base) ReadFileAsBinary(rel string) ([]byte, error) {
	dir, err := b.CacheDir()
	if err != nil {
		return nil, err
	}

	return dir.ReadBinary(rel)
}

func (b *Base) SaveFileAsString(rel string, text string) error {
	dir, err := b.CacheDir()
	if err != nil {
		return err
	}

	return dir.SaveString(rel, text)
}

func (b *Base) SaveFileAsBinary(rel string, data []byte) error {
	dir, err := b.CacheDir()
	if err != nil {
		return err
	}

	return dir.SaveBinary(rel, data)
}
