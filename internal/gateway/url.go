package gateway

import "regexp"

// guidPattern validates a ServiceNow-style sys_id (spec §4.I "id slots must
// match the GUID regex ^[a-f0-9]{32}$").
var guidPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// pathPattern validates the JSON table-API surface (spec §4.I "accepts
// /{apiVersion}/(import|table|stats|attachment)/{tableOrId}[/{id}] for
// JSON"). apiVersion, kind, and the table/stat name are captured; the
// optional trailing id is captured separately so callers can apply the
// GUID check only where an id is actually present.
var pathPattern = regexp.MustCompile(`^/v([12])/(import|table|stats|attachment)/([A-Za-z0-9_]+)(?:/([A-Za-z0-9_]+))?$`)

// importTablePrefix is the required prefix for import-API table names
// (spec §4.I "For import-API, table name must begin with u_imp_dm_").
const importTablePrefix = "u_imp_dm_"

func isGUID(s string) bool {
	return guidPattern.MatchString(s)
}
