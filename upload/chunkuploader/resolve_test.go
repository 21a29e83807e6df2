package chunkuploader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDestination(t *testing.T) {
	tests := []struct {
		name        string
		givenPath   string
		sourcePath  string
		metadata    map[string]Metadata
		lookupErr   map[string]error
		want        PathNormalizationResult
		wantLookups []string
	}{
		{
			name:        "nothing at destination",
			givenPath:   "/backups/host_1.tar.zst.0",
			sourcePath:  "/exports/host_1.tar.zst.0",
			want:        PathNormalizationResult{Kind: NewFile, Path: "/backups/host_1.tar.zst.0"},
			wantLookups: []string{"/backups/host_1.tar.zst.0"},
		},
		{
			name:       "matching size",
			givenPath:  "/backups/host_1.tar.zst.0",
			sourcePath: "/exports/host_1.tar.zst.0",
			metadata: map[string]Metadata{
				"/backups/host_1.tar.zst.0": {Kind: MetadataFile, Size: 42},
			},
			want: PathNormalizationResult{Kind: SkipMatching},
		},
		{
			name:       "different size",
			givenPath:  "/backups/host_1.tar.zst.0",
			sourcePath: "/exports/host_1.tar.zst.0",
			metadata: map[string]Metadata{
				"/backups/host_1.tar.zst.0": {Kind: MetadataFile, Size: 41},
			},
			want: PathNormalizationResult{Kind: Replace, Path: "/backups/host_1.tar.zst.0"},
		},
		{
			name:       "folder gets the filename appended",
			givenPath:  "/backups",
			sourcePath: "/exports/host_1.tar.zst.0",
			metadata: map[string]Metadata{
				"/backups": {Kind: MetadataFolder},
			},
			want:        PathNormalizationResult{Kind: NewFile, Path: "/backups/host_1.tar.zst.0"},
			wantLookups: []string{"/backups", "/backups/host_1.tar.zst.0"},
		},
		{
			name:       "nested folders recurse",
			givenPath:  "/backups/",
			sourcePath: "/exports/host_1.tar.zst.0",
			metadata: map[string]Metadata{
				"/backups/":                 {Kind: MetadataFolder},
				"/backups/host_1.tar.zst.0": {Kind: MetadataFolder},
				"/backups/host_1.tar.zst.0/host_1.tar.zst.0": {Kind: MetadataFile, Size: 1},
			},
			want: PathNormalizationResult{Kind: Replace, Path: "/backups/host_1.tar.zst.0/host_1.tar.zst.0"},
		},
		{
			name:        "root uses the source filename",
			givenPath:   "/",
			sourcePath:  "/exports/host_1.tar.zst.0",
			want:        PathNormalizationResult{Kind: NewFile, Path: "/host_1.tar.zst.0"},
			wantLookups: []string{"/host_1.tar.zst.0"},
		},
		{
			name:       "deleted entry",
			givenPath:  "/backups/host_1.tar.zst.0",
			sourcePath: "/exports/host_1.tar.zst.0",
			metadata: map[string]Metadata{
				"/backups/host_1.tar.zst.0": {Kind: MetadataDeleted},
			},
			want: PathNormalizationResult{Kind: ResolveError, Reason: "unexpected deleted metadata at /backups/host_1.tar.zst.0"},
		},
		{
			name:       "lookup error",
			givenPath:  "/backups/host_1.tar.zst.0",
			sourcePath: "/exports/host_1.tar.zst.0",
			lookupErr: map[string]error{
				"/backups/host_1.tar.zst.0": errors.New("network down"),
			},
			want: PathNormalizationResult{Kind: ResolveError, Reason: "looking up destination /backups/host_1.tar.zst.0: network down"},
		},
		{
			name:       "source without filename",
			givenPath:  "/backups",
			sourcePath: "",
			want:       PathNormalizationResult{Kind: ResolveError, Reason: `invalid source path "" has no filename`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			for k, v := range tt.metadata {
				client.metadata[k] = v
			}
			for k, v := range tt.lookupErr {
				client.lookupErr[k] = v
			}

			got := ResolveDestination(context.Background(), client, tt.givenPath, tt.sourcePath, 42)

			assert.Equal(t, tt.want, got)
			if tt.wantLookups != nil {
				assert.Equal(t, tt.wantLookups, client.lookups)
			}
		})
	}
}
