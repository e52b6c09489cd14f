package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-sunat/pkg/config"
)

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := config.FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, config.SUNATEnvBeta, cfg.SUNAT.Environment)
	assert.Equal(t, cfg.SUNAT.BetaURL, cfg.SUNAT.Endpoint())
	assert.Equal(t, 45*time.Second, cfg.SUNAT.Timeout)

	rate, err := cfg.SUNAT.TaxRate()
	require.NoError(t, err)
	assert.Equal(t, "0.18", rate.String())
	assert.False(t, cfg.Redis.Enabled())
}

func TestFromViper_TimeoutConPiso(t *testing.T) {
	v := viper.New()
	v.Set("SUNAT_TIMEOUT", "5s")
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, config.MinSUNATTimeout, cfg.SUNAT.Timeout)
}

func TestFromViper_TLSInseguroEnProduccion(t *testing.T) {
	v := viper.New()
	v.Set("SUNAT_ENV", "prod")
	v.Set("SUNAT_INSECURE_TLS", true)
	_, err := config.FromViper(v)
	assert.Error(t, err)
}

func TestFromViper_TasaConfigurable(t *testing.T) {
	v := viper.New()
	v.Set("SUNAT_IGV_RATE", "0.10")
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	rate, _ := cfg.SUNAT.TaxRate()
	assert.Equal(t, "0.1", rate.String())

	v.Set("SUNAT_IGV_RATE", "abc")
	_, err = config.FromViper(v)
	assert.Error(t, err)
}

func TestDBConfig_DSNEscapaPassword(t *testing.T) {
	c := config.DBConfig{Host: "db", Port: 5432, User: "app", Password: "p@ss/word", DBName: "fact", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss%2Fword@db:5432/fact?sslmode=disable", c.DSN())
}

func TestFromViper_PoolDeConexiones(t *testing.T) {
	cfg, err := config.FromViper(viper.New())
	require.NoError(t, err)
	assert.Equal(t, int32(25), cfg.DB.MaxConns)
	assert.Equal(t, "facturador-sunat", cfg.DB.AppName)

	v := viper.New()
	v.Set("DB_MAX_CONNS", "0")
	v.Set("DB_MIN_CONNS", "5")
	cfg, err = config.FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, int32(1), cfg.DB.MaxConns)
	assert.Equal(t, int32(1), cfg.DB.MinConns)
}

func TestSUNATConfig_CertificadoEnArchivo(t *testing.T) {
	v := viper.New()
	v.Set("SUNAT_CERT_PATH", "/run/secrets/emisor.p12")
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	assert.True(t, cfg.SUNAT.UsesCertFiles())
}
