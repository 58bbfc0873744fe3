package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/go-sql-driver/mysql"
	go_ora "github.com/sijms/go-ora/v2"
)

var defaultPorts = map[string]int{
	"postgresql": 5432,
	"mysql":      3306,
	"oracle":     1521,
	"mongodb":    27017,
}

// DSN returns the driver connection string for the source. An explicit
// connection_string always wins.
func (s SourceConfig) DSN() (string, error) {
	if s.ConnectionString != "" {
		return s.ConnectionString, nil
	}

	port := s.Port
	if port == 0 {
		port = defaultPorts[s.Type]
	}
	host := s.Host
	if host == "" {
		host = "localhost"
	}

	switch s.Type {
	case "postgresql":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(s.Username, s.Password),
			Host:   net.JoinHostPort(host, strconv.Itoa(port)),
			Path:   "/" + s.Database,
		}
		q := url.Values{}
		if s.SSL {
			q.Set("sslmode", "require")
		} else {
			q.Set("sslmode", "disable")
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = s.Username
		cfg.Passwd = s.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
		cfg.DBName = s.Database
		if s.SSL {
			cfg.TLSConfig = "true"
		}
		return cfg.FormatDSN(), nil
	case "oracle":
		return go_ora.BuildUrl(host, port, s.Database, s.Username, s.Password, nil), nil
	case "sqlite":
		if s.Path == "" {
			return "", fmt.Errorf("sqlite source requires a path")
		}
		return s.Path, nil
	case "mongodb":
		u := url.URL{
			Scheme: "mongodb",
			Host:   net.JoinHostPort(host, strconv.Itoa(port)),
			Path:   "/",
		}
		if s.Username != "" {
			u.User = url.UserPassword(s.Username, s.Password)
		}
		if s.SSL {
			u.RawQuery = "tls=true"
		}
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported source type %q", s.Type)
	}
}
