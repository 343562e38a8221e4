package account

import (
	"errors"
	"testing"
)

func TestEnsureParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  EnsureParams
		wantErr bool
	}{
		{name: "valid", params: EnsureParams{ID: "acc-1", ItemID: "item-1", Name: "Checking"}},
		{name: "name is optional", params: EnsureParams{ID: "acc-1", ItemID: "item-1"}},
		{name: "missing id", params: EnsureParams{ItemID: "item-1"}, wantErr: true},
		{name: "blank item", params: EnsureParams{ID: "acc-1", ItemID: "   "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("Validate() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
