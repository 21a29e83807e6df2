package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validSettings() Settings {
	return Settings{
		ExportPath: "/exports",
		Interval:   time.Hour,
		Sources:    []string{"web"},
		Upload: Upload{
			Parallelism:      20,
			BlockSize:        4 * 1024 * 1024,
			BlocksPerRequest: 2,
			MaxRetryPerBlock: 3,
		},
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(s *Settings)
		wantErr string
	}{
		{name: "valid", modify: func(*Settings) {}},
		{name: "no export path", modify: func(s *Settings) { s.ExportPath = "" }, wantErr: "export path"},
		{name: "zero parallelism", modify: func(s *Settings) { s.Upload.Parallelism = 0 }, wantErr: "parallelism"},
		{
			name: "dropbox block size",
			modify: func(s *Settings) {
				s.Action.UploadDropbox = true
				s.Dropbox.Token = "token"
				s.Upload.BlockSize = 1024 * 1024
			},
			wantErr: "multiple of 4194304",
		},
		{
			name: "s3 request too small",
			modify: func(s *Settings) {
				s.Action.UploadS3 = true
				s.S3.Bucket = "bucket"
				s.S3.Region = "eu-west-1"
				s.Upload.BlockSize = 1024 * 1024
			},
			wantErr: "s3 requires at least",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.modify(&s)

			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSecret_String(t *testing.T) {
	assert.Equal(t, "*****", Secret("token").String())
	assert.Equal(t, "", Secret("").String())
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "upload all sources to [dropbox, s3]", Action{UploadDropbox: true, UploadS3: true}.String())
	assert.Equal(t, "upload web to [gdrive]", Action{Source: "web", UploadGDrive: true}.String())
}

func TestUpload_ChunkConfig(t *testing.T) {
	config := validSettings().Upload.ChunkConfig()

	assert.Equal(t, 8*1024*1024, config.RequestSize())
	assert.Equal(t, 3, config.CommitAttempts)
	assert.Equal(t, time.Second, config.CommitRetryWait)
}
