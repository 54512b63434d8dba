package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fridgeCSV = `ID,CUSTOMER_ID,FRIDGE_MODEL,BRAND,CAPACITY_LITERS,PRICE,SALES_DATE,STORE_NAME,STORE_ADDRESS,CUSTOMER_FEEDBACK
1,CUST001,RF28K9070SG,Samsung,28,1299.99,2024-01-15,New York Store,123 Broadway,Great fridge
2,CUST002,GNE27JYMFS,GE,27,899.99,2024-01-16,Chicago Store,456 Michigan Ave,nan
3,CUST003,KRFF507HPS,KitchenAid,30,1899.99,2024-01-17,Los Angeles Store,789 Sunset Blvd,Too noisy
`

func TestLoadCSV(t *testing.T) {
	table, err := LoadCSV(strings.NewReader(fridgeCSV), DefaultProfile())
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, "Samsung", table.Value(0, "BRAND"))
	assert.Equal(t, "", table.Value(1, "CUSTOMER_FEEDBACK"))

	price, ok := table.Number(2, "PRICE")
	require.True(t, ok)
	assert.InDelta(t, 1899.99, price, 1e-9)

	date, ok := table.Time(0, "SALES_DATE")
	require.True(t, ok)
	assert.Equal(t, 15, date.Day())

	assert.Equal(t, 1, table.NullCounts()["CUSTOMER_FEEDBACK"])
}

func TestLoadCSVMissingColumns(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("ID,BRAND\n1,GE\n"), DefaultProfile())
	var missing *MissingColumnsError
	require.True(t, errors.As(err, &missing))
	assert.Contains(t, missing.Missing, "PRICE")
	assert.Contains(t, missing.Missing, "CUSTOMER_FEEDBACK")
}

func TestLoadCSVSamplesMostRecent(t *testing.T) {
	p := DefaultProfile()
	p.SampleSize = 2
	table, err := LoadCSV(strings.NewReader(fridgeCSV), p)
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "3", table.Value(0, "ID"))
	assert.Equal(t, "2", table.Value(1, "ID"))
}

func TestMasker(t *testing.T) {
	m := NewMasker()
	a := m.Mask("CUSTOMER_ID", "CUST001")
	assert.Regexp(t, `^CUSTOMER_ID_[0-9A-F]{8}$`, a)
	assert.Equal(t, a, m.Mask("CUSTOMER_ID", "CUST001"))
	assert.NotEqual(t, a, m.Mask("CUSTOMER_ID", "CUST002"))
	assert.Equal(t, "ab", m.Mask("CUSTOMER_ID", "ab"))
	assert.Equal(t, "", m.Mask("CUSTOMER_ID", "nan"))

	if diff := cmp.Diff(MaskStats{TotalMasked: 2, ByColumn: map[string]int{"CUSTOMER_ID": 2}}, m.Stats()); diff != "" {
		t.Errorf("mask stats mismatch (-want +got):\n%s", diff)
	}
}

func TestMaskerApplyLeavesSourceUntouched(t *testing.T) {
	table, err := LoadCSV(strings.NewReader(fridgeCSV), DefaultProfile())
	require.NoError(t, err)

	masked := NewMasker().Apply(table, DefaultProfile())
	assert.Equal(t, "CUST001", table.Value(0, "CUSTOMER_ID"))
	assert.True(t, strings.HasPrefix(masked.Value(0, "CUSTOMER_ID"), "CUSTOMER_ID_"))
	assert.Equal(t, "Samsung", masked.Value(0, "BRAND"))
}

func TestCatalogLoadsLazilyAndMasks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "fridge_sales.csv"), []byte(fridgeCSV), 0o600))

	c, err := NewCatalog("", []Profile{DefaultProfile()}, WithBaseDir(dir))
	require.NoError(t, err)
	assert.Equal(t, "default", c.DefaultID())

	loaded, err := c.Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Table.Len())
	assert.NotEqual(t, "CUST001", loaded.Table.Value(0, "CUSTOMER_ID"))

	again, err := c.Load("default")
	require.NoError(t, err)
	assert.Same(t, loaded, again)

	require.NoError(t, c.Reload("default"))
	reloaded, err := c.Load("default")
	require.NoError(t, err)
	assert.NotSame(t, loaded, reloaded)
	assert.Equal(t, loaded.Table.Value(0, "CUSTOMER_ID"), reloaded.Table.Value(0, "CUSTOMER_ID"))
}

func TestCatalogUnknownProfile(t *testing.T) {
	c, err := NewCatalog("", []Profile{DefaultProfile()})
	require.NoError(t, err)
	_, err = c.Load("missing")
	assert.ErrorIs(t, err, ErrUnknownProfile)

	_, err = NewCatalog("other", []Profile{DefaultProfile()})
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.yaml")
	data := "id: sales\ndata_file: sales.csv\nrequired_columns: [ID, PRICE]\nnumeric_columns: [PRICE]\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "sales", p.ID)
	assert.Equal(t, "sales_data", p.Collection())
	assert.True(t, p.IsNumeric("price"))
	assert.False(t, p.IsDate("PRICE"))
}
