package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	NodesAdded   []string
	NodesRemoved []string
	NodesChanged []string

	RouterChanged  bool
	NewDefaultNode string

	SchedulerChanged bool
	NewPollInterval  SchedulerConfig

	BackendChanged bool
	NewBackend     BackendConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.NodesAdded) > 0 ||
		len(d.NodesRemoved) > 0 ||
		len(d.NodesChanged) > 0 ||
		d.RouterChanged ||
		d.SchedulerChanged ||
		d.BackendChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	// Node diffs
	for name := range new.Nodes {
		if _, ok := old.Nodes[name]; !ok {
			d.NodesAdded = append(d.NodesAdded, name)
		}
	}
	for name := range old.Nodes {
		if _, ok := new.Nodes[name]; !ok {
			d.NodesRemoved = append(d.NodesRemoved, name)
		}
	}
	for name, newDef := range new.Nodes {
		if oldDef, ok := old.Nodes[name]; ok {
			if !reflect.DeepEqual(oldDef, newDef) {
				d.NodesChanged = append(d.NodesChanged, name)
			}
		}
	}

	// Router
	if old.Router.DefaultNode != new.Router.DefaultNode {
		d.RouterChanged = true
		d.NewDefaultNode = new.Router.DefaultNode
	}

	// Scheduler
	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewPollInterval = new.Scheduler
	}

	// Backend
	if !reflect.DeepEqual(old.Backend, new.Backend) {
		d.BackendChanged = true
		d.NewBackend = new.Backend
	}

	// Non-reloadable warnings
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats.data_dir")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}
