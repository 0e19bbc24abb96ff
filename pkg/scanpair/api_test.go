package scanpair

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIClient_DownloadLimit(t *testing.T) {
	body := bytes.Repeat([]byte{0xff}, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name    string
		limit   int64
		wantErr error
	}{
		{"under", 2048, nil},
		{"exact", 1024, nil},
		{"over", 1023, ErrImageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAPIClient("https://gw.example.com", srv.Client()).WithMaxDownload(tt.limit)
			data, err := c.Download(testContext(t), srv.URL+"/presigned/scan.jpg")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Download err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && len(data) != len(body) {
				t.Errorf("downloaded %d bytes", len(data))
			}
		})
	}
}

func TestAPIClient_WithMaxDownloadKeepsDefault(t *testing.T) {
	c := NewAPIClient("https://gw.example.com", nil).WithMaxDownload(0)
	if c.maxDownload != DefaultMaxImageSize {
		t.Errorf("maxDownload = %d", c.maxDownload)
	}
}
