package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"tankobon/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiBase() string {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return strings.TrimRight(strings.TrimSpace(*c.apiFlag), "/")
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		fallback := config.Default()
		return "http://" + fallback.Paths.APIBind
	}
	bind := cfg.Paths.APIBind
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

func (c *commandContext) apiClient() *resty.Client {
	return resty.New().
		SetBaseURL(c.apiBase()).
		SetTimeout(30 * time.Second)
}

// apiError extracts the detail message of a failed API response.
func apiError(resp *resty.Response, fallback string) error {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err == nil && payload.Detail != "" {
		return fmt.Errorf("%s: %s", fallback, payload.Detail)
	}
	return fmt.Errorf("%s: %s", fallback, resp.Status())
}
