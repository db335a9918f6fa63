// catalog/schema.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package catalog

const testSchema = `
CREATE TABLE Job (
	JobId       INTEGER PRIMARY KEY,
	Type        TEXT,
	Level       TEXT,
	ClientId    INTEGER,
	FilesetId   INTEGER,
	PoolId      INTEGER,
	PurgedFiles INTEGER DEFAULT 0,
	StartTime   DATETIME,
	EndTime     DATETIME,
	JobTDate    INTEGER,
	JobStatus   TEXT,
	JobFiles    INTEGER DEFAULT 0,
	JobBytes    INTEGER DEFAULT 0,
	JobErrors   INTEGER DEFAULT 0,
	Priority    INTEGER DEFAULT 0
);

CREATE TABLE Client (
	ClientId INTEGER PRIMARY KEY,
	Name     TEXT
);

CREATE TABLE Path (
	PathId INTEGER PRIMARY KEY,
	Path   TEXT
);

CREATE TABLE File (
	FileId    INTEGER PRIMARY KEY,
	FileIndex INTEGER,
	JobId     INTEGER,
	PathId    INTEGER,
	Name      TEXT,
	LStat     TEXT,
	MD5       TEXT
);
`

// OpenTestCatalog opens an in-memory sqlite database with the test schema
// applied, for use by catalog and consolidate tests that need a real
// database round trip rather than a mock.
func OpenTestCatalog() (*Catalog, error) {
	c, err := Open(":memory:")
	if err != nil {
		return nil, err
	}
	if _, err := c.db.Exec(testSchema); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Exec runs a statement against the catalog directly, for test fixture
// setup that needs to insert rows without going through a consolidator
// operation.
func (c *Catalog) Exec(query string, args ...interface{}) error {
	_, err := c.db.Exec(query, args...)
	return err
}
