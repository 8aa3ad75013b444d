package core

import (
	"path"
	"time"
)

// Retention sweeps a federation's objects against its active Retention
// policy, trimming the oldest
// versions of any key whose version count exceeds MaxVersions or whose
// age exceeds MaxAgeSecs, while never dropping below MinVersions.
func (s *ObjectStore) Retention(federation string) int {
	rules := s.policies.RetentionRules(federation)
	if len(rules) == 0 {
		return 0
	}
	prefix := federation + "/"

	s.mu.RLock()
	var targets []struct {
		key string
		obj *storedObject
	}
	for k, obj := range s.objects {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		targets = append(targets, struct {
			key string
			obj *storedObject
		}{k[len(prefix):], obj})
	}
	s.mu.RUnlock()

	pruned := 0
	nowSec := time.Now().Unix()
	for _, t := range targets {
		rule, ok := matchRetention(rules, t.key)
		if !ok {
			continue
		}
		t.obj.mu.Lock()
		versions := t.obj.Versions
		keep := versions
		if rule.MaxAgeSecs > 0 {
			var filtered []ObjectVersion
			for i, v := range versions {
				if len(versions)-i <= rule.MinVersions || nowSec-v.CreatedAt <= rule.MaxAgeSecs {
					filtered = append(filtered, v)
				} else {
					pruned++
				}
			}
			keep = filtered
		}
		if rule.MaxVersions > 0 && len(keep) > rule.MaxVersions {
			drop := len(keep) - rule.MaxVersions
			if len(keep)-drop < rule.MinVersions {
				drop = len(keep) - rule.MinVersions
			}
			if drop > 0 {
				pruned += drop
				keep = keep[drop:]
			}
		}
		t.obj.Versions = keep
		t.obj.mu.Unlock()
	}
	return pruned
}

func matchRetention(rules []RetentionRule, key string) (RetentionRule, bool) {
	for _, r := range rules {
		if ok, err := path.Match(r.PathPattern, key); err == nil && ok {
			return r, true
		}
	}
	return RetentionRule{}, false
}
