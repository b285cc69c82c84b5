package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/stakeledger/tracker/internal/analytics"
	"github.com/stakeledger/tracker/internal/model"
)

const (
	challengesCollection = "challenges"
	recordsCollection    = "journal"
)

// FirestoreStore implements Store on Cloud Firestore. Each challenge is one
// document holding its steps as an array; decimals are stored as strings.
type FirestoreStore struct {
	client *firestore.Client
	now    func() time.Time
}

// FirestoreConfig selects the project and credentials. CredentialsJSON is
// base64 encoded and takes precedence over CredentialsFile. With neither set
// the application default credentials are used.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

type stepDoc struct {
	ID           string    `firestore:"id"`
	StepNumber   int       `firestore:"stepNumber"`
	BetID        string    `firestore:"betId"`
	Amount       string    `firestore:"amount"`
	Odds         string    `firestore:"odds"`
	Result       string    `firestore:"result"`
	Profit       string    `firestore:"profit"`
	BetTimestamp time.Time `firestore:"betTimestamp"`
	TotalBefore  string    `firestore:"totalBefore"`
	TotalAfter   string    `firestore:"totalAfter"`
	Timestamp    time.Time `firestore:"timestamp"`
}

type challengeDoc struct {
	ID             string    `firestore:"id"`
	Date           string    `firestore:"date"`
	InitialBalance string    `firestore:"initialBalance"`
	Steps          []stepDoc `firestore:"steps"`
	TotalProfit    string    `firestore:"totalProfit"`
	FinalResult    string    `firestore:"finalResult"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

type recordDoc struct {
	ID                string    `firestore:"id"`
	Date              string    `firestore:"date"`
	InitialInvestment string    `firestore:"initialInvestment"`
	TotalSteps        int       `firestore:"totalSteps"`
	MaxAmountReached  string    `firestore:"maxAmountReached"`
	FinalResult       string    `firestore:"finalResult"`
	Observations      string    `firestore:"observations"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

// NewFirestoreStore initializes a Firebase app and opens its Firestore client.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		decoded, err := base64.StdEncoding.DecodeString(cfg.CredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("decode firestore credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(decoded))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open firestore client: %w", err)
	}
	return NewFirestoreStoreFromClient(client), nil
}

// NewFirestoreStoreFromClient wraps an existing client, e.g. one pointed at
// the Firestore emulator.
func NewFirestoreStoreFromClient(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, now: time.Now}
}

// Close releases the client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) challenges() *firestore.CollectionRef {
	return s.client.Collection(challengesCollection)
}

func (s *FirestoreStore) records() *firestore.CollectionRef {
	return s.client.Collection(recordsCollection)
}

func (s *FirestoreStore) CreateChallenge(ctx context.Context, c *model.Challenge) error {
	_, err := s.challenges().Doc(c.ID).Create(ctx, toChallengeDoc(c))
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: challenge %s", ErrAlreadyExists, c.ID)
	}
	return err
}

func (s *FirestoreStore) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	snap, err := s.challenges().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge %s: %w", id, err)
	}
	c, err := challengeFromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *FirestoreStore) AppendStep(ctx context.Context, id string, step model.Step) error {
	ref := s.challenges().Doc(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: challenge %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		c, err := challengeFromSnapshot(snap)
		if err != nil {
			return err
		}
		if step.StepNumber != len(c.Steps)+1 {
			return fmt.Errorf("%w: got %d, expected %d", ErrStepOutOfOrder, step.StepNumber, len(c.Steps)+1)
		}
		c.Steps = append(c.Steps, step)
		c.TotalProfit = sumProfits(c.Steps)
		c.UpdatedAt = step.Timestamp
		return tx.Set(ref, toChallengeDoc(&c))
	})
}

func (s *FirestoreStore) SetFinalResult(ctx context.Context, id string, result model.FinalResult) error {
	_, err := s.challenges().Doc(id).Update(ctx, []firestore.Update{
		{Path: "finalResult", Value: string(result)},
		{Path: "updatedAt", Value: s.now().UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	return err
}

func (s *FirestoreStore) ListByDate(ctx context.Context, date string) ([]model.Challenge, error) {
	return s.queryChallenges(ctx, s.challenges().Where("date", "==", date))
}

func (s *FirestoreStore) ListAll(ctx context.Context) ([]model.Challenge, error) {
	return s.queryChallenges(ctx, s.challenges().Query)
}

func (s *FirestoreStore) GetDailyStats(ctx context.Context, date string) (*model.DailyStats, error) {
	challenges, err := s.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	stats := analytics.DailyStats(date, challenges)
	return &stats, nil
}

func (s *FirestoreStore) AddRecord(ctx context.Context, r *model.Summary) error {
	_, err := s.records().Doc(r.ID).Create(ctx, toRecordDoc(r))
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: record %s", ErrAlreadyExists, r.ID)
	}
	return err
}

func (s *FirestoreStore) UpdateRecord(ctx context.Context, id string, patch model.SummaryPatch) (*model.Summary, error) {
	ref := s.records().Doc(id)
	var updated model.Summary
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: record %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		r, err := recordFromSnapshot(snap)
		if err != nil {
			return err
		}
		patch.Apply(&r)
		r.UpdatedAt = s.now().UTC()
		updated = r
		return tx.Set(ref, toRecordDoc(&r))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *FirestoreStore) DeleteRecord(ctx context.Context, id string) error {
	ref := s.records().Doc(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: record %s", ErrNotFound, id)
			}
			return err
		}
		return tx.Delete(ref)
	})
}

func (s *FirestoreStore) ListRecords(ctx context.Context) ([]model.Summary, error) {
	iter := s.records().OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	records := []model.Summary{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		r, err := recordFromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *FirestoreStore) ClearRecords(ctx context.Context) error {
	refs, err := s.records().DocumentRefs(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("list record refs: %w", err)
	}
	if len(refs) == 0 {
		return nil
	}
	bw := s.client.BulkWriter(ctx)
	for _, ref := range refs {
		if _, err := bw.Delete(ref); err != nil {
			bw.End()
			return fmt.Errorf("delete record %s: %w", ref.ID, err)
		}
	}
	bw.End()
	return nil
}

// queryChallenges sorts in memory so the date filter needs no composite index.
func (s *FirestoreStore) queryChallenges(ctx context.Context, q firestore.Query) ([]model.Challenge, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query challenges: %w", err)
	}
	challenges := make([]model.Challenge, 0, len(snaps))
	for _, snap := range snaps {
		c, err := challengeFromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, c)
	}
	sortChallenges(challenges)
	return challenges, nil
}

// --- Document mapping ---

func toChallengeDoc(c *model.Challenge) challengeDoc {
	doc := challengeDoc{
		ID:             c.ID,
		Date:           c.Date,
		InitialBalance: c.InitialBalance.String(),
		Steps:          make([]stepDoc, 0, len(c.Steps)),
		TotalProfit:    c.TotalProfit.String(),
		FinalResult:    string(c.FinalResult),
		CreatedAt:      c.CreatedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
	}
	for _, st := range c.Steps {
		doc.Steps = append(doc.Steps, stepDoc{
			ID:           st.ID,
			StepNumber:   st.StepNumber,
			BetID:        st.Bet.ID,
			Amount:       st.Bet.Amount.String(),
			Odds:         st.Bet.Odds.String(),
			Result:       string(st.Bet.Result),
			Profit:       st.Bet.Profit.String(),
			BetTimestamp: st.Bet.Timestamp.UTC(),
			TotalBefore:  st.TotalBefore.String(),
			TotalAfter:   st.TotalAfter.String(),
			Timestamp:    st.Timestamp.UTC(),
		})
	}
	return doc
}

func challengeFromSnapshot(snap *firestore.DocumentSnapshot) (model.Challenge, error) {
	var doc challengeDoc
	if err := snap.DataTo(&doc); err != nil {
		return model.Challenge{}, fmt.Errorf("decode challenge %s: %w", snap.Ref.ID, err)
	}
	var dc decimalColumns
	c := model.Challenge{
		ID:             doc.ID,
		Date:           doc.Date,
		InitialBalance: dc.parse("initialBalance", doc.InitialBalance),
		Steps:          make([]model.Step, 0, len(doc.Steps)),
		TotalProfit:    dc.parse("totalProfit", doc.TotalProfit),
		FinalResult:    model.FinalResult(doc.FinalResult),
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}
	for _, st := range doc.Steps {
		c.Steps = append(c.Steps, model.Step{
			ID:         st.ID,
			StepNumber: st.StepNumber,
			Bet: model.Bet{
				ID:        st.BetID,
				Amount:    dc.parse("amount", st.Amount),
				Odds:      dc.parse("odds", st.Odds),
				Result:    model.BetResult(st.Result),
				Profit:    dc.parse("profit", st.Profit),
				Timestamp: st.BetTimestamp.UTC(),
			},
			TotalBefore: dc.parse("totalBefore", st.TotalBefore),
			TotalAfter:  dc.parse("totalAfter", st.TotalAfter),
			Timestamp:   st.Timestamp.UTC(),
		})
	}
	if dc.err != nil {
		return model.Challenge{}, fmt.Errorf("decode challenge %s: %w", snap.Ref.ID, dc.err)
	}
	return c, nil
}

func toRecordDoc(r *model.Summary) recordDoc {
	return recordDoc{
		ID:                r.ID,
		Date:              r.Date,
		InitialInvestment: r.InitialInvestment.String(),
		TotalSteps:        r.TotalSteps,
		MaxAmountReached:  r.MaxAmountReached.String(),
		FinalResult:       string(r.FinalResult),
		Observations:      r.Observations,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func recordFromSnapshot(snap *firestore.DocumentSnapshot) (model.Summary, error) {
	var doc recordDoc
	if err := snap.DataTo(&doc); err != nil {
		return model.Summary{}, fmt.Errorf("decode record %s: %w", snap.Ref.ID, err)
	}
	var dc decimalColumns
	r := model.Summary{
		ID:                doc.ID,
		Date:              doc.Date,
		InitialInvestment: dc.parse("initialInvestment", doc.InitialInvestment),
		TotalSteps:        doc.TotalSteps,
		MaxAmountReached:  dc.parse("maxAmountReached", doc.MaxAmountReached),
		FinalResult:       model.FinalResult(doc.FinalResult),
		Observations:      doc.Observations,
		Source:            model.SourceJournal,
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
	}
	if dc.err != nil {
		return model.Summary{}, fmt.Errorf("decode record %s: %w", snap.Ref.ID, dc.err)
	}
	return r, nil
}
