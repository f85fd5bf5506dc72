package config

import (
	"net"
	"strconv"
)

// IRCConfig describes the single server/channel the relay joins.
type IRCConfig struct {
	Server    string              `json:"server"`
	Port      int                 `json:"port"`
	TLS       bool                `json:"tls,omitempty"`
	Channel   string              `json:"channel"`
	Nickname  string              `json:"nickname"`
	Username  string              `json:"username,omitempty"` // defaults to nickname
	Realname  string              `json:"realname,omitempty"` // defaults to nickname
	Password  string              `json:"-"`                  // server password, from env IRCRELAY_IRC_PASSWORD only
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// Addr returns host:port for dialing.
func (c IRCConfig) Addr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// User returns the USER name sent at registration.
func (c IRCConfig) User() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Nickname
}

// Name returns the realname sent at registration.
func (c IRCConfig) Name() string {
	if c.Realname != "" {
		return c.Realname
	}
	return c.Nickname
}
