package middleware

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// MountProfiler serves chi's pprof and expvar handlers under /debug to the
// allowed networks only. An empty list denies everyone.
func MountProfiler(r chi.Router, allowed []string, logger *slog.Logger) {
	r.With(AllowNetworks(allowed, logger)).Mount("/debug", chimw.Profiler())
}

// AllowNetworks rejects requests whose remote address is outside every
// prefix. Unparseable prefixes are logged and skipped.
func AllowNetworks(prefixes []string, logger *slog.Logger) func(http.Handler) http.Handler {
	nets := make([]netip.Prefix, 0, len(prefixes))
	for _, s := range prefixes {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			logger.Warn("ignoring invalid network prefix", slog.String("prefix", s), slog.String("error", err.Error()))
			continue
		}
		nets = append(nets, p.Masked())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := remoteAddr(r)
			if !ok || !containsAddr(nets, addr) {
				logger.Warn("request from disallowed network",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("path", r.URL.Path),
				)
				writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func containsAddr(nets []netip.Prefix, addr netip.Addr) bool {
	for _, p := range nets {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
