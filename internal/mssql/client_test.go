package mssql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildConnectionStringSQLAuth(t *testing.T) {
	dsn := buildConnectionString(Config{
		Host:     "sql01.corp.local",
		Port:     14330,
		Username: "svc_scan",
		Password: "hunter2",
		Database: "master",
	})

	assert.Contains(t, dsn, "server=sql01.corp.local")
	assert.Contains(t, dsn, "port=14330")
	assert.Contains(t, dsn, "database=master")
	assert.Contains(t, dsn, "user id=svc_scan")
	assert.Contains(t, dsn, "password=hunter2")
	assert.Contains(t, dsn, "encrypt=true")
	assert.Contains(t, dsn, "TrustServerCertificate=true")
	assert.NotContains(t, dsn, "trusted_connection")
}

func TestBuildConnectionStringWindowsAuth(t *testing.T) {
	dsn := buildConnectionString(Config{
		Host:        "sql01",
		Instance:    "SQLEXPRESS",
		WindowsAuth: true,
		Encrypt:     "disable",
	})

	assert.Contains(t, dsn, "trusted_connection=yes")
	assert.Contains(t, dsn, "instance=SQLEXPRESS")
	assert.Contains(t, dsn, "encrypt=disable")
	assert.NotContains(t, dsn, "user id")
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	assert.Equal(t, "NULL", formatValue(nil))
	assert.Equal(t, "abc", formatValue([]byte("abc")))
	assert.Equal(t, "1", formatValue(true))
	assert.Equal(t, "0", formatValue(false))
	assert.Equal(t, "42", formatValue(int64(42)))
	assert.Equal(t, "2026-02-03T04:05:06Z", formatValue(ts))
}
