package database

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridforge/griddb/internal/errs"
)

func newTestSchemaManager(t *testing.T) (*SchemaManager, *fakeDialer) {
	t.Helper()
	c, d := newTestClient(t)
	return NewSchemaManager(c, nil), d
}

func specsABC() map[string]TableSpec {
	return map[string]TableSpec{
		"A": {
			Fields:     map[string]string{"ID": "INTEGER NOT NULL AUTO_INCREMENT"},
			PrimaryKey: []string{"ID"},
		},
		"B": {
			Fields:      map[string]string{"ID": "INTEGER NOT NULL", "AID": "INTEGER NOT NULL"},
			ForeignKeys: map[string]string{"AID": "A.ID"},
		},
		"C": {
			Fields:      map[string]string{"BID": "INTEGER NOT NULL"},
			ForeignKeys: map[string]string{"BID": "B.ID"},
		},
	}
}

func TestResolveCreationOrder(t *testing.T) {
	batches, err := resolveCreationOrder(specsABC())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"B"}, {"C"}}, batches)
}

func TestResolveCreationOrder_SharedRound(t *testing.T) {
	specs := map[string]TableSpec{
		"Base": {Fields: map[string]string{"ID": "INTEGER"}},
		"L":    {Fields: map[string]string{"BID": "INTEGER"}, ForeignKeys: map[string]string{"BID": "Base.ID"}},
		"R":    {Fields: map[string]string{"BID": "INTEGER"}, ForeignKeys: map[string]string{"BID": "Base.ID"}},
	}
	batches, err := resolveCreationOrder(specs)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Base"}, {"L", "R"}}, batches)
}

func TestResolveCreationOrder_Cycle(t *testing.T) {
	specs := map[string]TableSpec{
		"X": {Fields: map[string]string{"YID": "INTEGER"}, ForeignKeys: map[string]string{"YID": "Y.ID"}},
		"Y": {Fields: map[string]string{"XID": "INTEGER", "ID": "INTEGER"}, ForeignKeys: map[string]string{"XID": "X.ID"}},
	}
	_, err := resolveCreationOrder(specs)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
	assert.Contains(t, err.Error(), "X, Y")
}

func TestValidateForeignKeys(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]TableSpec)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(map[string]TableSpec) {},
			wantErr: "",
		},
		{
			name: "source field missing",
			mutate: func(s map[string]TableSpec) {
				b := s["B"]
				b.ForeignKeys = map[string]string{"Ghost": "A.ID"}
				s["B"] = b
			},
			wantErr: "not defined in table B",
		},
		{
			name: "target field missing",
			mutate: func(s map[string]TableSpec) {
				b := s["B"]
				b.ForeignKeys = map[string]string{"AID": "A.Ghost"}
				s["B"] = b
			},
			wantErr: "not defined in referenced table A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs := specsABC()
			tt.mutate(specs)
			err := validateForeignKeys("B", specs)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildTableDDL(t *testing.T) {
	spec := TableSpec{
		Fields: map[string]string{
			"ID":     "INTEGER NOT NULL AUTO_INCREMENT",
			"Name":   "VARCHAR(64) NOT NULL",
			"SiteID": "INTEGER NOT NULL",
		},
		PrimaryKey:    []string{"ID"},
		Indexes:       map[string][]string{"NameIdx": {"Name"}},
		UniqueIndexes: map[string][]string{"SiteName": {"SiteID", "Name"}},
		ForeignKeys:   map[string]string{"SiteID": "Sites.ID"},
	}

	ddl := buildTableDDL("Resources", spec)
	want := "CREATE TABLE `Resources` (\n" +
		"`ID` INTEGER NOT NULL AUTO_INCREMENT,\n" +
		"`Name` VARCHAR(64) NOT NULL,\n" +
		"`SiteID` INTEGER NOT NULL,\n" +
		"PRIMARY KEY ( `ID` ),\n" +
		"INDEX `NameIdx` ( `Name` ),\n" +
		"UNIQUE INDEX `SiteName` ( `SiteID`, `Name` ),\n" +
		"FOREIGN KEY ( `SiteID` ) REFERENCES `Sites` ( `ID` ) ON DELETE RESTRICT\n" +
		") ENGINE=InnoDB DEFAULT CHARSET=latin1"
	assert.Equal(t, want, ddl)
}

func TestBuildTableDDL_CompositePrimaryKeyAndOverrides(t *testing.T) {
	spec := TableSpec{
		Fields:     map[string]string{"A": "INTEGER", "B": "INTEGER"},
		PrimaryKey: []string{"A", "B"},
		Engine:     "MyISAM",
		Charset:    "utf8mb4",
	}
	ddl := buildTableDDL("Pairs", spec)
	assert.Contains(t, ddl, "PRIMARY KEY ( `A`, `B` )")
	assert.True(t, strings.HasSuffix(ddl, "ENGINE=MyISAM DEFAULT CHARSET=utf8mb4"))
}

func TestCreateTables_MissingFields(t *testing.T) {
	m, _ := newTestSchemaManager(t)
	err := m.CreateTables(ctxFor("w1"), map[string]TableSpec{"T": {}}, false)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
	assert.Contains(t, err.Error(), "Fields")
}

func TestCreateTables_EmptySetIsNoop(t *testing.T) {
	m, d := newTestSchemaManager(t)
	require.NoError(t, m.CreateTables(ctxFor("w1"), nil, false))
	assert.Zero(t, d.dialCount())
}

func TestCreateTables_OrderAndDDL(t *testing.T) {
	m, d := newTestSchemaManager(t)

	require.NoError(t, m.CreateTables(ctxFor("w1"), specsABC(), false))

	execs, queries := d.conns[0].recorded()
	// One SHOW TABLES existence check per table.
	assert.Equal(t, []string{"SHOW TABLES", "SHOW TABLES", "SHOW TABLES"}, queries)

	var creates []string
	for _, e := range execs {
		if strings.HasPrefix(e, "CREATE TABLE") {
			creates = append(creates, e[:len("CREATE TABLE `X`")])
		}
	}
	assert.Equal(t, []string{
		"CREATE TABLE `A`",
		"CREATE TABLE `B`",
		"CREATE TABLE `C`",
	}, creates)
}

func TestCreateTables_ExistingWithoutForce(t *testing.T) {
	m, d := newTestSchemaManager(t)
	d.prepare = func(fc *fakeConn) {
		fc.queryFn = func(sql string) ([][]any, error) {
			return [][]any{{"A"}}, nil
		}
	}

	err := m.CreateTables(ctxFor("w1"), specsABC(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCreateTables_ForceDropsAndRecreates(t *testing.T) {
	m, d := newTestSchemaManager(t)
	d.prepare = func(fc *fakeConn) {
		fc.queryFn = func(sql string) ([][]any, error) {
			return [][]any{{"A"}}, nil
		}
	}

	require.NoError(t, m.CreateTables(ctxFor("w1"), specsABC(), true))

	execs, _ := d.conns[0].recorded()
	// Only A pre-exists in the fake listing, so exactly one DROP.
	var drops []string
	for _, e := range execs {
		if strings.HasPrefix(e, "DROP TABLE") {
			drops = append(drops, e)
		}
	}
	assert.Equal(t, []string{"DROP TABLE `A`"}, drops)
}

func TestCreateViews(t *testing.T) {
	m, d := newTestSchemaManager(t)

	specs := map[string]ViewSpec{
		"SiteSummary": {
			Fields:     map[string]string{"Site": "`Site`", "Total": "SUM(`Jobs`)"},
			SelectFrom: "`Resources`",
			Clauses:    []string{"`Status` = 'Active'", "`Jobs` > 0"},
			GroupBy:    []string{"`Site`"},
			OrderBy:    []string{"`Site` DESC"},
		},
	}
	require.NoError(t, m.CreateViews(ctxFor("w1"), specs, true))

	_, queries := d.conns[0].recorded()
	require.Len(t, queries, 1)
	assert.Equal(t,
		"CREATE OR REPLACE VIEW `SiteSummary` AS "+
			"SELECT `Site` AS `Site`, SUM(`Jobs`) AS `Total` FROM `Resources` "+
			"WHERE `Status` = 'Active' AND `Jobs` > 0 "+
			"GROUP BY `Site` "+
			"ORDER BY `Site` DESC",
		queries[0])
}

func TestCreateViews_NoopWithoutForce(t *testing.T) {
	m, d := newTestSchemaManager(t)
	require.NoError(t, m.CreateViews(ctxFor("w1"), map[string]ViewSpec{
		"V": {Fields: map[string]string{"a": "`a`"}, SelectFrom: "`t`"},
	}, false))
	assert.Zero(t, d.dialCount())
}

func TestCreateViews_InvalidSpec(t *testing.T) {
	m, _ := newTestSchemaManager(t)
	err := m.CreateViews(ctxFor("w1"), map[string]ViewSpec{"V": {}}, true)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestCreateTables_ContextPlumbing(t *testing.T) {
	m, _ := newTestSchemaManager(t)
	ctx, cancel := context.WithCancel(ctxFor("w1"))
	cancel()
	// A cancelled context still resolves ordering; only the DB round trips
	// would observe it. The fake conn ignores ctx, so this just must not
	// hang or panic.
	require.NoError(t, m.CreateTables(ctx, specsABC(), false))
}
