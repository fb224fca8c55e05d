package credstore

import "fmt"

// Backend kinds accepted by Open
const (
	KindKeyring = "keyring"
	KindFile    = "file"
	KindMemory  = "memory"
)

// Options selects and configures a backend
type Options struct {
	Kind    string
	Path    string // file backend; defaults to DefaultFilePath
	Service string // keyring backend
	Account string // keyring backend
}

// Open creates a Store for the configured backend
func Open(opts Options) (*Store, error) {
	switch opts.Kind {
	case KindKeyring, "":
		return New(NewKeyringBackend(opts.Service, opts.Account)), nil
	case KindFile:
		path := opts.Path
		if path == "" {
			var err error
			path, err = DefaultFilePath()
			if err != nil {
				return nil, err
			}
		}
		return New(NewFileBackend(path)), nil
	case KindMemory:
		return New(NewMemoryBackend()), nil
	default:
		return nil, fmt.Errorf("unknown credential store '%s', must be one of: keyring, file, memory", opts.Kind)
	}
}
