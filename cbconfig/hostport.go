package cbconfig

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// splitHostPort parses a "host:port" string the way the partition
// map's serverList entries are encoded, including the IPv6 bracket
// form "[::1]:11210". If the port segment isn't a valid decimal
// number, it returns port 0 and logs a warning rather than failing
// the whole parse — one bad port should not sink an otherwise usable
// config.
func splitHostPort(entry string, logger *zap.Logger) (host string, port int) {
	if strings.HasPrefix(entry, "[") {
		end := strings.Index(entry, "]")
		if end < 0 {
			return entry, 0
		}
		host = entry[1:end]
		rest := entry[end+1:]
		rest = strings.TrimPrefix(rest, ":")
		if rest == "" {
			return host, 0
		}
		p, err := strconv.Atoi(rest)
		if err != nil {
			logger.Warn("partition host has non-numeric port", zap.String("entry", entry))
			return host, 0
		}
		return host, p
	}

	idx := strings.LastIndex(entry, ":")
	if idx < 0 {
		return entry, 0
	}
	host = entry[:idx]
	p, err := strconv.Atoi(entry[idx+1:])
	if err != nil {
		logger.Warn("partition host has non-numeric port", zap.String("entry", entry))
		return host, 0
	}
	return host, p
}
