// Package pagination reads an export job's result set page by page.
//
// The export service pages results with an offset/limit cursor. A Reader
// advances the offset by the number of rows each page returned and stops at
// the first empty page:
//
//	reader, err := pagination.NewReader(exportClient, jobID, pagination.DefaultConfig())
//	for {
//		page, err := reader.Next(ctx)
//		if errors.Is(err, pagination.ErrDone) {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		// consume page.Rows
//	}
//
// The reader:
//   - Never varies the limit (maximum 500 rows per page)
//   - Waits a fixed pacing delay before each fetch that follows a non-empty page
//   - Is forward-only and scoped to one job; it cannot be restarted
//   - Propagates the first fetch error and keeps returning it
package pagination
