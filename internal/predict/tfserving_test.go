package predict

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTFServingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models/rul:predict" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Instances [][][]float64 `json:"instances"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch req.Instances[0][0][0] {
		case 1:
			w.Write([]byte(`{"predictions": [[112.5]]}`))
		case 2:
			w.Write([]byte(`{"predictions": [87]}`))
		case 3:
			w.Write([]byte(`{"predictions": []}`))
		case 4:
			w.Write([]byte(`{"predictions": ["x"]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "boom"}`))
		}
	}))
	defer srv.Close()

	m := NewTFServingModel(srv.URL+"/", "rul", time.Second)

	tests := []struct {
		name    string
		first   float64
		want    float64
		wantErr error
		anyErr  bool
	}{
		{name: "vector prediction", first: 1, want: 112.5},
		{name: "scalar prediction", first: 2, want: 87},
		{name: "no predictions", first: 3, wantErr: ErrInvalidModelOutput},
		{name: "non numeric prediction", first: 4, wantErr: ErrInvalidModelOutput},
		{name: "server error", first: 5, anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := m.Predict(context.Background(), [][][]float64{{{tt.first, 0}, {0, 0}}})
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("expected an error")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(out) != 1 || out[0][0] != tt.want {
					t.Errorf("expected %v, got %v", tt.want, out)
				}
			}
		})
	}
}
