package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	CollectionCalls    = "voiceCalls"
	collectionMessages = "messages"
)

type FirestoreOptions struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

// FirestoreBackend stores records in the voiceCalls collection with
// messages in a per-call subcollection.
type FirestoreBackend struct {
	client *firestore.Client
}

// OpenFirestore initialises a Firebase app and returns a backend using its
// Firestore client. Without explicit credentials the application default
// credentials are used.
func OpenFirestore(ctx context.Context, opts FirestoreOptions) (*FirestoreBackend, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	var conf *firebase.Config
	if opts.ProjectID != "" {
		conf = &firebase.Config{ProjectID: opts.ProjectID}
	}
	app, err := firebase.NewApp(ctx, conf, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return NewFirestoreBackend(client), nil
}

func NewFirestoreBackend(client *firestore.Client) *FirestoreBackend {
	return &FirestoreBackend{client: client}
}

func (f *FirestoreBackend) records() *firestore.CollectionRef {
	return f.client.Collection(CollectionCalls)
}

// Transactions are capped at 500 writes.
const firestoreTxLimit = 500

// MergeRecord reads the document in the same transaction as the write so
// createdAt is only set on a document that has none.
func (f *FirestoreBackend) MergeRecord(ctx context.Context, rec CallRecord) error {
	ref := f.records().Doc(rec.CallID)
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		return tx.Set(ref, mergeFields(rec, snap), firestore.MergeAll)
	})
}

// mergeFields drops createdAt when the stored document already has one.
func mergeFields(rec CallRecord, snap *firestore.DocumentSnapshot) map[string]any {
	fields := rec.Fields()
	if snap != nil && snap.Exists() {
		if _, ok := snap.Data()[FieldCreatedAt]; ok {
			delete(fields, FieldCreatedAt)
		}
	}
	return fields
}

func (f *FirestoreBackend) UpdateRecord(ctx context.Context, callID string, partial CallRecord) error {
	partial.CallID = ""
	partial.CreatedAt = time.Time{}
	updates := fieldUpdates("", partial.Fields())
	if len(updates) == 0 {
		return nil
	}
	_, err := f.records().Doc(callID).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (f *FirestoreBackend) ApplyRecord(ctx context.Context, callID string, fn ApplyFunc) (*CallRecord, bool, error) {
	ref := f.records().Doc(callID)
	var (
		out   *CallRecord
		wrote bool
	)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := snapshotRecord(snap)
		if err != nil {
			return err
		}

		patch, write := fn(*cur)
		if write {
			patch.CallID = ""
			patch.CreatedAt = time.Time{}
			if updates := fieldUpdates("", patch.Fields()); len(updates) > 0 {
				if err := tx.Update(ref, updates); err != nil {
					return err
				}
			}
			Merge(cur, patch)
		}
		out, wrote = cur, write
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, wrote, nil
}

// fieldUpdates flattens nested maps into dotted paths so nested objects are
// updated field by field instead of replaced.
func fieldUpdates(prefix string, fields map[string]any) []firestore.Update {
	var out []firestore.Update
	for k, v := range fields {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			out = append(out, fieldUpdates(path, nested)...)
			continue
		}
		out = append(out, firestore.Update{Path: path, Value: v})
	}
	return out
}

func (f *FirestoreBackend) GetRecord(ctx context.Context, callID string) (*CallRecord, error) {
	snap, err := f.records().Doc(callID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snapshotRecord(snap)
}

func (f *FirestoreBackend) FindByField(ctx context.Context, field, value string) (*CallRecord, error) {
	iter := f.records().Where(field, "==", value).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snapshotRecord(snap)
}

func (f *FirestoreBackend) ListRecords(ctx context.Context, limit int, since time.Time) ([]CallRecord, error) {
	q := f.records().Query
	if !since.IsZero() {
		q = q.Where(FieldCreatedAt, ">=", since.UTC())
	}
	docs, err := q.OrderBy(FieldCreatedAt, firestore.Desc).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]CallRecord, 0, len(docs))
	for _, snap := range docs {
		rec, err := snapshotRecord(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// MergeRecords writes the batch in transactions of up to firestoreTxLimit
// documents, keeping createdAt on documents that already exist.
func (f *FirestoreBackend) MergeRecords(ctx context.Context, recs []CallRecord) error {
	for start := 0; start < len(recs); start += firestoreTxLimit {
		end := min(start+firestoreTxLimit, len(recs))
		chunk := recs[start:end]

		refs := make([]*firestore.DocumentRef, len(chunk))
		for i, rec := range chunk {
			refs[i] = f.records().Doc(rec.CallID)
		}
		err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			snaps, err := tx.GetAll(refs)
			if err != nil {
				return err
			}
			for i, rec := range chunk {
				if err := tx.Set(refs[i], mergeFields(rec, snaps[i]), firestore.MergeAll); err != nil {
					return fmt.Errorf("%s: %w", rec.CallID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *FirestoreBackend) PutMessage(ctx context.Context, msg ConversationMessage) error {
	ref := f.records().Doc(msg.CallID).Collection(collectionMessages).Doc(msg.ID)
	_, err := ref.Set(ctx, msg)
	return err
}

func (f *FirestoreBackend) ListMessages(ctx context.Context, callID string, limit int) ([]ConversationMessage, error) {
	docs, err := f.records().Doc(callID).Collection(collectionMessages).
		OrderBy("timestamp", firestore.Asc).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]ConversationMessage, 0, len(docs))
	for _, snap := range docs {
		var msg ConversationMessage
		if err := snap.DataTo(&msg); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", snap.Ref.ID, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (f *FirestoreBackend) Close() error {
	return f.client.Close()
}

// Client exposes the underlying client so other stores can share it.
func (f *FirestoreBackend) Client() *firestore.Client {
	return f.client
}

func snapshotRecord(snap *firestore.DocumentSnapshot) (*CallRecord, error) {
	var rec CallRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode call record %s: %w", snap.Ref.ID, err)
	}
	if rec.CallID == "" {
		rec.CallID = snap.Ref.ID
	}
	return &rec, nil
}
