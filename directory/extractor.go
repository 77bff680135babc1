package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-ldap/ldap/v3"
)

var (
	// ErrSourceUnavailable indicates the directory could not be
	// reached or the bind was refused.
	ErrSourceUnavailable = errors.New("directory: source unavailable")

	// ErrPartialFetch indicates pagination ended before completeness
	// could be confirmed. A partial set is never returned as complete.
	ErrPartialFetch = errors.New("directory: partial fetch")
)

// userFilter selects user entries carrying a mail attribute, matching
// the account population the publisher owns.
const userFilter = "(&(objectClass=inetOrgPerson)(mail=*))"

// requestedAttributes asks for all user attributes plus the
// operational ones the pipeline keys on.
var requestedAttributes = []string{"*", "entryUUID", "createTimestamp", "modifyTimestamp"}

// Extractor performs the full paged extraction of user records.
type Extractor struct {
	url            string
	baseDN         string
	bindDN         string
	bindPassword   string
	pageSize       uint32
	connectRetries int
}

func NewExtractor(url, baseDN, bindDN, bindPassword string, pageSize uint32, connectRetries int) *Extractor {
	return &Extractor{
		url:            url,
		baseDN:         baseDN,
		bindDN:         bindDN,
		bindPassword:   bindPassword,
		pageSize:       pageSize,
		connectRetries: connectRetries,
	}
}

// FetchAll pages through the full result set and returns every user
// record. The paging cookie loop runs until the server returns an empty
// cookie; a response without a paging control aborts with
// ErrPartialFetch.
func (e *Extractor) FetchAll(ctx context.Context) ([]Record, error) {
	conn, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	pageControl := ldap.NewControlPaging(e.pageSize)
	request := ldap.NewSearchRequest(
		e.baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		userFilter,
		requestedAttributes,
		[]ldap.Control{pageControl},
	)

	var records []Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: fetch cancelled: %w", ErrPartialFetch, err)
		}

		results, err := conn.Search(request)
		if err != nil {
			return nil, fmt.Errorf("%w: search failed: %w", ErrSourceUnavailable, err)
		}

		for _, entry := range results.Entries {
			records = append(records, recordFromEntry(entry))
		}

		control := ldap.FindControl(results.Controls, ldap.ControlTypePaging)
		if control == nil {
			return nil, fmt.Errorf("%w: server dropped paging control after %d records", ErrPartialFetch, len(records))
		}
		paging := control.(*ldap.ControlPaging)
		if len(paging.Cookie) == 0 {
			break
		}
		pageControl.SetCookie(paging.Cookie)
	}

	log.Printf("directory: fetched %d records from %s", len(records), e.baseDN)
	return records, nil
}

// connect dials and binds, retrying a bounded number of times. Retry
// counts come from configuration, not hard-coded policy.
func (e *Extractor) connect(ctx context.Context) (*ldap.Conn, error) {
	var lastErr error
	attempts := e.connectRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}

		conn, err := ldap.DialURL(e.url)
		if err != nil {
			lastErr = fmt.Errorf("dialing %s: %w", e.url, err)
			continue
		}
		if err := conn.Bind(e.bindDN, e.bindPassword); err != nil {
			conn.Close()
			lastErr = fmt.Errorf("binding as %s: %w", e.bindDN, err)
			continue
		}
		return conn, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, lastErr)
}
