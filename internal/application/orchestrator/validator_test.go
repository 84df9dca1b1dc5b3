package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
)

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(testRegistry())

	tests := []struct {
		name    string
		node    canvas.Node
		wantErr error
		ok      bool
	}{
		{
			name: "chord of known tasks",
			node: canvas.NewChord(canvas.NewGroup(canvas.Sig("add", 1, 1), canvas.Sig("add", 2, 2)), canvas.Sig("double")),
			ok:   true,
		},
		{
			name:    "unknown task in chord body",
			node:    canvas.NewChord(canvas.NewGroup(canvas.Sig("add", 1, 1)), canvas.Sig("sum")),
			wantErr: domain.ErrUnknownTask,
		},
		{
			name:    "unknown link target",
			node:    canvas.Sig("add", 1, 1).Link(canvas.Sig("missing")),
			wantErr: domain.ErrUnknownTask,
		},
		{
			name:    "chord without body",
			node:    &canvas.Chord{Header: canvas.NewGroup(canvas.Sig("add"))},
			wantErr: canvas.ErrInvalidNode,
		},
		{
			name: "negative retries",
			node: canvas.Sig("add").WithOptions(canvas.Options{canvas.OptMaxRetries: -1}),
		},
		{
			name: "empty group is valid",
			node: canvas.NewGroup(),
			ok:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.node)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidator_NilRegistryChecksStructureOnly(t *testing.T) {
	v := NewValidator(nil)
	assert.NoError(t, v.Validate(canvas.Sig("anything")))
	assert.Error(t, v.Validate(nil))
}
