package confloader

import "errors"

// ErrReadBytesNotSupported reports a ReadBytes call on the map provider.
var ErrReadBytesNotSupported = errors.New("confloader: map provider has no byte form, use Read")

// mapProvider feeds a flat dotted-key map into koanf. Loader.LoadMap
// uses it so tests can stage config like "mesh.host" without a file.
type mapProvider map[string]any

// ReadBytes always fails; the map has no serialized form.
func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

// Read hands the map to koanf as-is.
func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
