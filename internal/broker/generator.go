package broker

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultTokenLength is the nanoid length used by the default generator.
// 32 symbols from a 64 symbol alphabet carry 192 bits of entropy.
const DefaultTokenLength = 32

// Generator produces the random component of a login token.
type Generator interface {
	Generate() (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func() (string, error)

func (f GeneratorFunc) Generate() (string, error) {
	return f()
}

// NanoIDGenerator returns URL-safe nanoid tokens of the given length.
func NanoIDGenerator(length int) Generator {
	return GeneratorFunc(func() (string, error) {
		id, err := gonanoid.New(length)
		if err != nil {
			return "", fmt.Errorf("generate nanoid: %w", err)
		}
		return id, nil
	})
}
