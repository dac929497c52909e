package feat

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid FEA magic")
	ErrUnsupportedMajor = errors.New("unsupported FEA major version")
	ErrCorruptFile      = errors.New("corrupt FEA file")
	ErrMatrixNotFound   = errors.New("matrix not found")
)
