package config

import (
	"encoding/json"
	"errors"
	"os"
)

type Config struct {
	AppName      string `json:"app_name"`
	Addr         string `json:"addr"`
	Port         int    `json:"port"`
	IdleTimeout  string `json:"idle_timeout"`
	DefaultCodec string `json:"default_codec"`
	UDPMaxMTU    int    `json:"udp_max_mtu"`
	DebugMode    bool   `json:"debug_mode"`
}

var config = Config{
	AppName:      "silkcast",
	Addr:         "0.0.0.0",
	Port:         8080,
	IdleTimeout:  "10s",
	DefaultCodec: "mjpeg",
	UDPMaxMTU:    1400,
}

var initialized = false

// ReadConfig loads config.json from the working directory. When the file is
// missing it is created with the defaults so the operator has something to
// edit, and the defaults are used for this run.
func ReadConfig() (Config, error) {
	bytes, err := os.ReadFile("config.json")

	if err != nil {
		writer, _ := os.OpenFile("config.json", os.O_WRONLY|os.O_CREATE, 0644)
		data, _ := json.MarshalIndent(config, "", "\t")
		_, _ = writer.Write(data)
		_ = writer.Close()
		initialized = true
		return config, nil
	}

	err = json.Unmarshal(bytes, &config)

	if err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}

// Set replaces the cached configuration. CLI flags use this to apply
// overrides on top of the values loaded from config.json.
func Set(c Config) {
	config = c
	initialized = true
}
