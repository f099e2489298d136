package registry

import (
	"log"

	"github.com/nao1215/msagate/pkg/metrics"
)

// instanceKey はスイープ対象のインスタンスを識別するキー。
type instanceKey struct {
	service string
	id      string
}

// Start はバックグラウンドのエビクションスイープを開始する。
// 2回目以降の呼び出しは何もしない。
func (r *Registry) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	ticker := r.clock.Ticker(r.cfg.SweepInterval)
	log.Printf("[Registry] エビクションスイープを開始します。間隔: %s, リース: %s",
		r.cfg.SweepInterval, r.cfg.LeaseDuration)

	go func() {
		defer close(r.done)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// Stop はスイープを停止し、実行中のスイープの終了を待つ。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	if r.started.Load() {
		<-r.done
	}
}

// sweep はリース切れのインスタンスをDOWNにマークし、猶予を過ぎたDOWNを削除する。
// 読み取りロックで対象を洗い出してから書き込みロックで適用するため、
// 無関係なインスタンスへの登録やハートビートを長時間ブロックしない。
func (r *Registry) sweep() {
	now := r.clock.Now()

	var expired, evict []instanceKey
	r.mu.RLock()
	for service, instances := range r.services {
		for id, e := range instances {
			switch {
			case e.inst.Status == StatusDown && !now.Before(e.downSince.Add(r.cfg.EvictionGrace)):
				evict = append(evict, instanceKey{service: service, id: id})
			case e.inst.Status == StatusUp && !r.isHealthy(e, now):
				expired = append(expired, instanceKey{service: service, id: id})
			}
		}
	}
	r.mu.RUnlock()

	if len(expired) > 0 || len(evict) > 0 {
		r.mu.Lock()
		for _, k := range expired {
			// 洗い出し後にハートビートで更新された可能性があるため再判定する
			e := r.lookup(k.service, k.id)
			if e == nil || e.inst.Status != StatusUp || r.isHealthy(e, now) {
				continue
			}
			e.inst.Status = StatusDown
			e.downSince = now
			log.Printf("[Registry] リース切れのためDOWNにしました: service=%s, id=%s, last_heartbeat=%s",
				k.service, k.id, e.inst.LastHeartbeatAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		for _, k := range evict {
			e := r.lookup(k.service, k.id)
			if e == nil || e.inst.Status != StatusDown {
				continue
			}
			r.remove(k.service, k.id)
			metrics.RegistryEvictions.WithLabelValues(k.service).Inc()
			log.Printf("[Registry] インスタンスを削除しました: service=%s, id=%s", k.service, k.id)
		}
		r.mu.Unlock()
	}

	r.reportInstances()
}

// reportInstances はステータス別のインスタンス数をゲージに反映する。
func (r *Registry) reportInstances() {
	metrics.RegistryInstances.Reset()
	for _, snap := range r.Services() {
		down := 0
		for _, inst := range snap.Instances {
			if inst.Status == StatusDown {
				down++
			}
		}
		metrics.RegistryInstances.WithLabelValues(snap.Name, string(StatusUp)).Set(float64(len(snap.Instances) - down))
		metrics.RegistryInstances.WithLabelValues(snap.Name, string(StatusDown)).Set(float64(down))
	}
}
