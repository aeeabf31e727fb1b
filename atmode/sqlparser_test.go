package atmode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInsert(t *testing.T) {
	p, err := Parse("INSERT INTO account (id, balance) VALUES (?, ?)", []interface{}{1, 100})
	require.NoError(t, err)
	assert.Equal(t, SQLTypeInsert, p.SQLType)
	assert.Equal(t, "account", p.TableName)
	assert.Equal(t, []string{"id", "balance"}, p.Columns)
}

func TestParseUpdate(t *testing.T) {
	p, err := Parse("UPDATE account SET balance = balance - ? WHERE id = ?", []interface{}{10, 1})
	require.NoError(t, err)
	assert.Equal(t, SQLTypeUpdate, p.SQLType)
	assert.Equal(t, "account", p.TableName)
	assert.Equal(t, "id = ?", p.Where)
}

func TestParseDelete(t *testing.T) {
	p, err := Parse("DELETE FROM account WHERE id = ?", []interface{}{1})
	require.NoError(t, err)
	assert.Equal(t, SQLTypeDelete, p.SQLType)
	assert.Equal(t, "id = ?", p.Where)
}

func TestParseUnsupported(t *testing.T) {
	_, err := Parse("SELECT * FROM account", nil)
	assert.ErrorIs(t, err, ErrUnsupportedSQL)
}

func TestIsSupportedDML(t *testing.T) {
	assert.True(t, IsSupportedDML("update account set balance=1 where id=1"))
	assert.False(t, IsSupportedDML("select 1"))
	assert.False(t, IsSupportedDML("create table foo (id int)"))
}
