// Command inspect opens a missionlog database offline and dumps store and
// outbox state. Run it against a stopped instance; pebble allows a single
// writer.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/state"
	"missionlog/pkg/store"
)

func main() {
	logger.Init()

	db := flag.String("db", "./.database", "path to database directory")
	outbox := flag.String("outbox", "", "list outbox entries with this status (pending|acknowledged|failed)")
	records := flag.Int("records", 0, "print the newest N records")
	keys := flag.String("keys", "", "list raw keys under this prefix")
	limit := flag.Int("limit", 50, "max entries per listing")
	flag.Parse()

	storePath := state.StorePath(*db)
	if _, err := os.Stat(storePath); err != nil {
		fmt.Fprintf(os.Stderr, "no store at %s: %v\n", storePath, err)
		os.Exit(2)
	}
	if err := store.Open(storePath); err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	summary(*db)

	switch {
	case *outbox != "":
		listOutbox(*outbox, *limit)
	case *records > 0:
		listRecords(*records)
	case *keys != "":
		listKeys(*keys, *limit)
	}
}

func summary(db string) {
	n, err := store.CountRecords()
	if err != nil {
		fmt.Fprintf(os.Stderr, "count records: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("db:       %s\n", db)
	fmt.Printf("size:     %s\n", humanize.Bytes(store.DiskSize()))
	fmt.Printf("records:  %d\n", n)
	for _, st := range []string{models.OutboxPending, models.OutboxAcknowledged, models.OutboxFailed} {
		c, err := store.CountOutbox(st)
		if err != nil {
			fmt.Fprintf(os.Stderr, "count outbox %s: %v\n", st, err)
			os.Exit(1)
		}
		fmt.Printf("outbox %-13s %d\n", st+":", c)
	}
	for _, k := range []string{"system:version", "system:index_epoch"} {
		v, err := store.GetKey(k)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			fmt.Fprintf(os.Stderr, "get %s: %v\n", k, err)
			os.Exit(1)
		}
		fmt.Printf("%s: %s\n", k, v)
	}
}

func listOutbox(status string, limit int) {
	entries, err := store.ListOutbox(status, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list outbox: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n%-8s %-22s %-7s %-9s %-26s %s\n", "SEQ", "RECORD", "OP", "ATTEMPTS", "ENQUEUED", "LAST ERROR")
	for _, e := range entries {
		fmt.Printf("%-8d %-22s %-7s %-9d %-26s %s\n",
			e.Seq, e.RecordID, e.Op, e.AttemptCount,
			time.Unix(0, e.EnqueuedAt).UTC().Format(time.RFC3339), e.LastError)
	}
}

func listRecords(n int) {
	vals, err := store.ListRecords(n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list records: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()
	for _, v := range vals {
		var rec models.Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			fmt.Printf("?? %s\n", v)
			continue
		}
		fmt.Printf("%s  %s  %q tags=%v\n",
			rec.ID, time.Unix(0, rec.CreatedAt).UTC().Format(time.RFC3339), rec.Title, rec.Tags)
	}
}

func listKeys(prefix string, limit int) {
	ks, err := store.ListKeys(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list keys: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()
	for i, k := range ks {
		if i >= limit {
			fmt.Printf("... %d more\n", len(ks)-limit)
			break
		}
		fmt.Println(k)
	}
}
