//go:build revdb_replay && !revdb_record

package revdb

import "github.com/outofforest/revdb/types"

var supportedModes = []types.Mode{types.ModeReplay}
