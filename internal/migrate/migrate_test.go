package migrate

import "testing"

func TestStatementsDropCommentsAndBlanks(t *testing.T) {
	in := `-- header
CREATE TABLE a (id TEXT);

-- second
CREATE INDEX a_idx ON a (id);
`
	stmts := Statements(in)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (id TEXT)" {
		t.Fatalf("unexpected first statement %q", stmts[0])
	}
}
