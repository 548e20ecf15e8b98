package notification

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Purge は保持期間を過ぎた既読通知を削除し、削除件数を返す。
func (s *Server) Purge(ctx context.Context) (int64, error) {
	before := formatTime(s.now().Add(-s.cfg.Retention))
	n, err := s.queries.DeleteReadBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("既読通知の削除に失敗: %w", err)
	}
	s.purged.Add(float64(n))
	return n, nil
}

// runPurgeScheduler はcron式に従ってPurgeを定期実行する。ctxが終了すると実行中のジョブを待って戻る。
func (s *Server) runPurgeScheduler(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.PurgeSchedule, func() {
		n, err := s.Purge(ctx)
		if err != nil {
			s.logger.Errorf("定期削除ジョブが失敗しました: %v", err)
			return
		}
		if n > 0 {
			s.logger.Infof("既読通知を%d件削除しました", n)
		}
	}); err != nil {
		return fmt.Errorf("定期削除ジョブの登録に失敗: %w", err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
