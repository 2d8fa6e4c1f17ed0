package model

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDestinationTarget_Validate(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://localhost:9444/TransferService", false},
		{"http://svc.local/A?wsdl", false},
		{"ftp://svc.local/A", true},
		{"svc.local/A", true},
		{"http:///nohost", true},
		{"http://bad host/", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := DestinationTarget{URL: tt.url}.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOutboundResult_UpstreamError(t *testing.T) {
	for code, want := range map[int]bool{
		http.StatusOK:                  false,
		http.StatusAccepted:            false,
		http.StatusNoContent:           false,
		http.StatusFound:               true,
		http.StatusBadRequest:          true,
		http.StatusInternalServerError: true,
	} {
		r := &OutboundResult{StatusCode: code}
		assert.Equal(t, want, r.UpstreamError(), "status %d", code)
	}
}

func TestInboundRequest_URI(t *testing.T) {
	assert.Equal(t, "/Svc", (&InboundRequest{Path: "/Svc"}).URI())
	assert.Equal(t, "/Svc?wsdl", (&InboundRequest{Path: "/Svc", RawQuery: "wsdl"}).URI())
}
