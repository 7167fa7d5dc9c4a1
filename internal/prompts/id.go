package prompts

import (
	"fmt"

	"github.com/google/uuid"
)

// uuidV7Provider issues time-ordered identifiers for prompts created without one.
type uuidV7Provider struct{}

func NewUUIDProvider() IDProvider {
	return uuidV7Provider{}
}

func (uuidV7Provider) NewID() (string, error) {
	generated, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("prompts: generate id: %w", err)
	}
	return generated.String(), nil
}
