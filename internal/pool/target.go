package pool

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/systmms/mediavault/internal/topology"
)

// driverMap maps configured database types to database/sql driver names
var driverMap = map[string]string{
	"postgresql": "postgres",
	"postgres":   "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

var defaultPorts = map[string]int{
	"postgres": 5432,
	"mysql":    3306,
}

// DriverName resolves a configured database type to its driver name.
func DriverName(dbType string) (string, error) {
	driver, ok := driverMap[strings.ToLower(dbType)]
	if !ok {
		return "", fmt.Errorf("unsupported database type: %s", dbType)
	}
	return driver, nil
}

// Target is everything needed to open a pool for one role. Two targets are
// equal exactly when a pool opened for one can serve the other.
type Target struct {
	Role     topology.Role
	Driver   string
	Host     string
	Port     int
	DBName   string
	Username string
	Password string
	SSLMode  string
}

// String describes the target without the password.
func (t Target) String() string {
	return fmt.Sprintf("%s://%s@%s/%s", t.Driver, t.Username, net.JoinHostPort(t.Host, strconv.Itoa(t.Port)), t.DBName)
}

// DSN builds the driver connection string.
func (t Target) DSN(connectTimeout time.Duration) (string, error) {
	switch t.Driver {
	case "postgres":
		return t.postgresDSN(connectTimeout), nil
	case "mysql":
		return t.mysqlDSN(connectTimeout), nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", t.Driver)
	}
}

// postgresDSN builds a lib/pq key/value connection string
func (t Target) postgresDSN(connectTimeout time.Duration) string {
	parts := []string{
		"host=" + quoteValue(t.Host),
		fmt.Sprintf("port=%d", t.Port),
		"user=" + quoteValue(t.Username),
	}

	if t.DBName != "" {
		parts = append(parts, "dbname="+quoteValue(t.DBName))
	}
	if t.Password != "" {
		parts = append(parts, "password="+quoteValue(t.Password))
	}

	if t.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteValue(t.SSLMode))
	} else {
		parts = append(parts, "sslmode=require")
	}

	if secs := int(connectTimeout.Seconds()); secs > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}

	return strings.Join(parts, " ")
}

// quoteValue quotes a key/value parameter when it contains characters lib/pq
// would otherwise split on.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// mysqlDSN builds a go-sql-driver/mysql DSN
func (t Target) mysqlDSN(connectTimeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = t.Username
	cfg.Passwd = t.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	cfg.DBName = t.DBName
	cfg.ParseTime = true
	if connectTimeout > 0 {
		cfg.Timeout = connectTimeout
	}
	switch t.SSLMode {
	case "", "disable":
	case "require":
		cfg.TLSConfig = "skip-verify"
	default:
		cfg.TLSConfig = "true"
	}
	return cfg.FormatDSN()
}
