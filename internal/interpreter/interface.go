package interpreter

import (
	"context"

	"github.com/mattjoyce/mntdata/internal/kernel"
	"github.com/mattjoyce/mntdata/internal/outputs"
)

//go:generate mockgen -destination=mocks/mock_interpreter.go -package=mocks github.com/mattjoyce/mntdata/internal/interpreter Engine,Registrar

// Engine runs code remotely. *kernel.Client implements it.
type Engine interface {
	Execute(ctx context.Context, code string) (*kernel.Output, error)
}

// Registrar hands generated outputs to the file catalog and returns the new
// file id. *catalog.Catalog implements it.
type Registrar interface {
	RegisterOutput(ctx context.Context, a outputs.Artifact) (string, error)
}
