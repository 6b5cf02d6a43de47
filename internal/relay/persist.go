package relay

import (
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/CodeHiveAPP/codehive/internal/hive"
	"github.com/CodeHiveAPP/codehive/internal/logging"
	"github.com/CodeHiveAPP/codehive/internal/metrics"
)

// persistLoop rewrites the full room snapshot every minute. A final write
// happens on clean shutdown from Run.
func (s *Server) persistLoop() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeSnapshot()
		}
	}
}

// writeSnapshot persists non-empty room metadata atomically
// (write-temp-then-rename). Errors are logged and swallowed; persistence is
// best-effort recovery, not durability.
func (s *Server) writeSnapshot() {
	records := s.registry.ToJSON()
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		metrics.Get().PersistWriteTotal.WithLabelValues("error").Inc()
		return
	}

	tmp := s.cfg.PersistPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.L().Warn("persist write failed", zap.Error(err))
		metrics.Get().PersistWriteTotal.WithLabelValues("error").Inc()
		return
	}
	if err := os.Rename(tmp, s.cfg.PersistPath); err != nil {
		logging.L().Warn("persist rename failed", zap.Error(err))
		metrics.Get().PersistWriteTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.Get().PersistWriteTotal.WithLabelValues("ok").Inc()
}

// loadSnapshot restores room metadata from the last snapshot. Membership is
// never restored; a corrupt or missing file is ignored.
func (s *Server) loadSnapshot() {
	data, err := os.ReadFile(s.cfg.PersistPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.L().Warn("persist read failed", zap.Error(err))
		}
		return
	}
	var records []hive.PersistedRoom
	if err := json.Unmarshal(data, &records); err != nil {
		logging.L().Warn("persist file corrupt, ignoring", zap.Error(err))
		return
	}
	restored := 0
	for _, rec := range records {
		if !hive.IsValidRoomCode(rec.Code) {
			continue
		}
		s.registry.Restore(rec)
		restored++
	}
	if restored > 0 {
		logging.L().Info("restored rooms from snapshot", zap.Int("count", restored))
	}
	s.updateRoomGauge()
}
