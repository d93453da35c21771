//go:build revdb_record && !revdb_replay

package revdb

import "github.com/outofforest/revdb/types"

var supportedModes = []types.Mode{types.ModeRecord}
