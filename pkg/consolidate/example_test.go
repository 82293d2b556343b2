package consolidate_test

import (
	"fmt"
	"os"
	"strings"

	"github.com/ontracksystems/ontrack-etl/pkg/consolidate"
)

func ExampleConsolidate() {
	a := "timestamp,mac,cpu,ram_gb,ram_percent,disk_percent\n" +
		"07/03/2025 09:00:00,aa:bb,50,3.2,60,10\n"
	b := "timestamp,mac,cpu,ram_gb,ram_percent,disk_percent\n" +
		"07/03/2025 09:00:00,aa:bb,50,3.2,60,10\n" + // duplicate, dropped
		"07/03/2025 09:00:05,aa:bb,999,3.2,1,1\n" // cpu out of range, dropped

	res, err := consolidate.Consolidate(os.Stdout, strings.NewReader(a), strings.NewReader(b))
	if err != nil {
		panic(err)
	}
	fmt.Println("written:", res.Stats.RowsWritten, "dropped:", res.Stats.DroppedTotal())
	// Output:
	// timestamp,mac,cpu,ram_gb,ram_percent,disk_percent
	// 07/03/2025 09:00:00,aa:bb,50,3.2,60,10
	// written: 1 dropped: 2
}

func ExampleCheckRow() {
	fmt.Println(consolidate.CheckRow([]string{"t", "m", "50", "3.2", "60", "10"}))
	fmt.Println(consolidate.CheckRow([]string{"t", "m", "50", "3.2", "160", "10"}))
	fmt.Println(consolidate.CheckRow([]string{"t", "m"}))
	// Output:
	// accepted
	// ram_out_of_range
	// short_row
}
