package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  driver: memory
jwt:
  secret: s3cret
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, StorageLocal, cfg.Storage.Driver)
	assert.Equal(t, "uploads", cfg.Storage.LocalDir)
	assert.Equal(t, 10*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.APNs.Enabled())
}

func TestParse_Full(t *testing.T) {
	t.Setenv("FLASHPAIR_DB_PASSWORD", "hunter2")
	t.Setenv("FLASHPAIR_JWT_SECRET", "from-env")

	cfg, err := Parse([]byte(`
server:
  host: 127.0.0.1
  port: 9000
database:
  driver: postgres
  host: db
  port: 5433
  user: flash
  password: ${FLASHPAIR_DB_PASSWORD}
  dbname: flashpair
  sslmode: require
storage:
  driver: minio
minio:
  endpoint: minio:9000
  access_key: key
  secret_key: secret
  bucket: images
jwt:
  secret: ${FLASHPAIR_JWT_SECRET}
apns:
  key_file: /keys/AuthKey.p8
  key_id: ABC123
  team_id: TEAM42
  topic: com.example.flashpair
sweeper:
  interval: 2s
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, "host=db port=5433 user=flash password=hunter2 dbname=flashpair sslmode=require", cfg.Database.DSN())
	assert.Equal(t, StorageMinio, cfg.Storage.Driver)
	assert.Equal(t, "images", cfg.Minio.Bucket)
	assert.True(t, cfg.APNs.Enabled())
	assert.Equal(t, 2*time.Second, cfg.Sweeper.Interval)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing secret", "database: {driver: memory}", "jwt.secret"},
		{"unknown database", "database: {driver: mysql}\njwt: {secret: x}", `unknown database driver "mysql"`},
		{"unknown storage", "database: {driver: memory}\nstorage: {driver: ftp}\njwt: {secret: x}", `unknown storage driver "ftp"`},
		{"postgres without host", "jwt: {secret: x}", "database.host"},
		{"s3 without bucket", "database: {driver: memory}\nstorage: {driver: s3}\njwt: {secret: x}", "aws.s3_bucket"},
		{"apns incomplete", "database: {driver: memory}\njwt: {secret: x}\napns: {key_file: k.p8}", "apns.key_id"},
		{"bad yaml", "server: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: {driver: memory}\njwt: {secret: x}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
