package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/pkg/config"
)

// loadProfile reads the provider configuration from the profile file.
// It reads the se_* keys, profile_name and udp_acceleration, plus the
// credential keys resolved by loadCredentials (username and password,
// or the oidc group); other keys are ignored.
func loadProfile(path string) (*config.SessionOptions, *model.Credentials, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", config.ErrBadProviderConfig, err)
	}

	options, err := config.NewSessionOptionsFromProvider(map[string]string{
		"se_host":      v.GetString("se_host"),
		"se_port":      v.GetString("se_port"),
		"se_hub":       v.GetString("se_hub"),
		"profile_name": v.GetString("profile_name"),
	})
	if err != nil {
		return nil, nil, err
	}
	options.UDPAccelEnabled = v.GetBool("udp_acceleration")

	creds, err := loadCredentials(v)
	if err != nil {
		return nil, nil, err
	}
	return options, creds, nil
}

// loadCredentials resolves the credential: an explicit username and
// password from the profile, or a bearer token cached by the external
// identity flow at the location named by the oidc group.
func loadCredentials(v *viper.Viper) (*model.Credentials, error) {
	if username := v.GetString("username"); username != "" {
		return &model.Credentials{
			Username: username,
			Password: v.GetString("password"),
		}, nil
	}
	if cache := v.GetString("oidc.cached_token_file"); cache != "" {
		raw, err := os.ReadFile(cache)
		if err != nil {
			return nil, fmt.Errorf("%w: cached token: %s", config.ErrBadProviderConfig, err)
		}
		return &model.Credentials{Token: strings.TrimSpace(string(raw))}, nil
	}
	return nil, fmt.Errorf("%w: no credential source", config.ErrBadProviderConfig)
}
