package uruguay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/trade"
)

func TestParseCSVResolvesColumnsByKeyword(t *testing.T) {
	csv := "Posicion NCM,Pais Destino,Kilos Netos,Valor FOB\n" +
		"1005.90.10,Brasil,1000000,250000\n" +
		"1201.90.00,China,500000,210000\n"

	raw, skipped, err := parseCSV([]byte(csv), trade.FlowExport, "2024-08", "corn")
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Len(t, raw, 2)

	require.Equal(t, "1005.90.10", raw[0].HSCode)
	require.Equal(t, "Brasil", raw[0].CountryRaw)
	require.Equal(t, 1000000.0, raw[0].Quantity)
	require.Equal(t, trade.UnitKG, raw[0].QuantityUnit)
	require.NotNil(t, raw[0].ValueFOB)
	require.Equal(t, 250000.0, *raw[0].ValueFOB)
}

func TestParseCSVSkipsMalformedRows(t *testing.T) {
	csv := "ncm,pais,kilos,fob\n" +
		"1005.90.10,Brasil,1000,250\n" +
		"1005.90.10,Argentina,2000,500\n" +
		"1201.90.00,China,3000,750\n" +
		"1005.90.10,Chile,4000,1000\n" +
		"1005.90.10,Brasil,not-a-number,250\n"

	// 1 malformed row of 5 is exactly 20%, which is still under the limit.
	raw, skipped, err := parseCSV([]byte(csv), trade.FlowExport, "2024-08", "corn")
	require.NoError(t, err)
	require.Equal(t, 1, skipped)
	require.Len(t, raw, 4)
}

func TestParseCSVFailsWhenTooManyRowsMalformed(t *testing.T) {
	csv := "ncm,pais,kilos,fob\n" +
		"1005.90.10,Brasil,x,250\n" +
		"1005.90.10,Brasil,y,250\n" +
		"1005.90.10,Brasil,1000,250\n"

	_, _, err := parseCSV([]byte(csv), trade.FlowExport, "2024-08", "corn")
	require.Error(t, err)
}

func TestParseCSVRejectsMissingColumns(t *testing.T) {
	csv := "ncm,pais\n1005.90.10,Brasil\n"
	_, _, err := parseCSV([]byte(csv), trade.FlowExport, "2024-08", "corn")
	require.Error(t, err)
}

func TestImportFlowUsesCIF(t *testing.T) {
	csv := "ncm,pais origen,kilos,valor\n1005.90.10,Argentina,1000,300\n"
	raw, _, err := parseCSV([]byte(csv), trade.FlowImport, "2024-08", "corn")
	require.NoError(t, err)
	require.Len(t, raw, 1)
	require.NotNil(t, raw[0].ValueCIF)
	require.Nil(t, raw[0].ValueFOB)
}
