package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/soaringjerry/Quill/internal/api"
	"github.com/soaringjerry/Quill/internal/models"
	"github.com/soaringjerry/Quill/internal/services"
)

// MongoStore keeps each entity in its own collection. FinalizeResponse and
// exclusive activation use multi-document transactions, so the server must
// be a replica set or sharded cluster.
type MongoStore struct {
	client    *mongo.Client
	users     *mongo.Collection
	questions *mongo.Collection
	forms     *mongo.Collection
	responses *mongo.Collection
	audit     *mongo.Collection
	meta      *mongo.Collection
}

var _ api.Store = (*MongoStore)(nil)

// answerDoc is the stored shape of one answer.
type answerDoc struct {
	QuestionID string   `bson:"question_id"`
	Multiple   bool     `bson:"multiple"`
	Values     []string `bson:"values"`
}

type responseDoc struct {
	ID           string      `bson:"_id"`
	FormID       string      `bson:"form_id"`
	UserID       string      `bson:"user_id"`
	Answers      []answerDoc `bson:"answers"`
	IsDraft      bool        `bson:"is_draft"`
	DayKey       string      `bson:"day_key"`
	SubmittedAt  *time.Time  `bson:"submitted_at,omitempty"`
	LastModified time.Time   `bson:"last_modified"`
	Deleted      bool        `bson:"deleted"`
}

func toResponseDoc(r *models.Response) responseDoc {
	doc := responseDoc{
		ID: r.ID, FormID: r.FormID, UserID: r.UserID, IsDraft: r.IsDraft, DayKey: r.DayKey,
		LastModified: r.LastModified.UTC(), Deleted: r.Deleted, Answers: []answerDoc{},
	}
	if !r.SubmittedAt.IsZero() {
		t := r.SubmittedAt.UTC()
		doc.SubmittedAt = &t
	}
	for _, a := range r.Answers {
		if !a.Answer.Present() {
			continue
		}
		doc.Answers = append(doc.Answers, answerDoc{QuestionID: a.QuestionID, Multiple: a.Answer.IsMultiple(), Values: a.Answer.Values()})
	}
	return doc
}

func (d responseDoc) model() *models.Response {
	r := &models.Response{
		ID: d.ID, FormID: d.FormID, UserID: d.UserID, IsDraft: d.IsDraft, DayKey: d.DayKey,
		LastModified: d.LastModified.UTC(), Deleted: d.Deleted, Answers: make([]models.Answer, 0, len(d.Answers)),
	}
	if d.SubmittedAt != nil {
		r.SubmittedAt = d.SubmittedAt.UTC()
	}
	for _, a := range d.Answers {
		v := models.Multiple(a.Values...)
		if !a.Multiple {
			single := ""
			if len(a.Values) > 0 {
				single = a.Values[0]
			}
			v = models.Single(single)
		}
		r.Answers = append(r.Answers, models.Answer{QuestionID: a.QuestionID, Answer: v})
	}
	return r
}

// OpenMongo connects, pings the primary and ensures indexes.
func OpenMongo(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	if uri == "" || dbName == "" {
		return nil, errors.New("mongo uri and database name are required")
	}
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	s := NewMongoStore(client, dbName)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Printf("mongo store: connected to %s", dbName)
	return s, nil
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	database := client.Database(dbName)
	return &MongoStore{
		client:    client,
		users:     database.Collection("users"),
		questions: database.Collection("questions"),
		forms:     database.Collection("forms"),
		responses: database.Collection("responses"),
		audit:     database.Collection("audit_log"),
		meta:      database.Collection("meta"),
	}
}

// EnsureIndexes creates the uniqueness guards. Partial filters keep
// soft-deleted rows out of the unique sets.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_email"),
	}); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	_, err := s.responses.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "form_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "day_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_live_final").
				SetPartialFilterExpression(bson.D{{Key: "is_draft", Value: false}, {Key: "deleted", Value: false}}),
		},
		{
			Keys: bson.D{{Key: "form_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_live_draft").
				SetPartialFilterExpression(bson.D{{Key: "is_draft", Value: true}, {Key: "deleted", Value: false}}),
		},
		{Keys: bson.D{{Key: "form_id", Value: 1}, {Key: "submitted_at", Value: 1}}, Options: options.Index().SetName("form_submitted")},
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetName("user")},
	})
	if err != nil {
		return fmt.Errorf("create response indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func live(filter bson.D) bson.D {
	return append(filter, bson.E{Key: "deleted", Value: false})
}

func findOne[T any](ctx context.Context, c *mongo.Collection, filter bson.D) (*T, error) {
	var out T
	err := c.FindOne(ctx, filter).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, c *mongo.Collection, filter bson.D, opts ...options.Lister[options.FindOptions]) ([]*T, error) {
	cur, err := c.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*T{}
	for cur.Next(ctx) {
		var v T
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, cur.Err()
}

func (s *MongoStore) softDelete(ctx context.Context, c *mongo.Collection, filter bson.D) (bool, error) {
	res, err := c.UpdateOne(ctx, live(filter), bson.D{{Key: "$set", Value: bson.D{{Key: "deleted", Value: true}}}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func insertMapped(ctx context.Context, c *mongo.Collection, doc any) error {
	_, err := c.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return services.ErrDuplicate
	}
	return err
}

// users

func (s *MongoStore) AddUser(ctx context.Context, u *models.User) error {
	cp := *u
	cp.Email = strings.ToLower(cp.Email)
	cp.CreatedAt = cp.CreatedAt.UTC()
	return insertMapped(ctx, s.users, &cp)
}

const firstAdminMarker = "first_admin"

// AddUserFirstAdmin claims a marker document with a fixed _id before the
// insert. The _id uniqueness lets exactly one registration on an empty users
// collection take the admin role.
func (s *MongoStore) AddUserFirstAdmin(ctx context.Context, u *models.User) (bool, error) {
	n, err := s.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return false, err
	}
	promoted := false
	if n == 0 {
		_, err := s.meta.InsertOne(ctx, bson.D{
			{Key: "_id", Value: firstAdminMarker},
			{Key: "user_id", Value: u.ID},
			{Key: "claimed_at", Value: time.Now().UTC()},
		})
		switch {
		case err == nil:
			promoted = true
		case mongo.IsDuplicateKeyError(err):
		default:
			return false, fmt.Errorf("claim first admin: %w", err)
		}
	}
	cp := *u
	cp.Email = strings.ToLower(cp.Email)
	cp.CreatedAt = cp.CreatedAt.UTC()
	if promoted {
		cp.Role = models.RoleAdmin
	}
	if err := insertMapped(ctx, s.users, &cp); err != nil {
		if promoted {
			_, derr := s.meta.DeleteOne(ctx, bson.D{{Key: "_id", Value: firstAdminMarker}, {Key: "user_id", Value: u.ID}})
			if derr != nil {
				log.Printf("mongo store: release first admin marker: %v", derr)
			}
		}
		return false, err
	}
	return promoted, nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return findOne[models.User](ctx, s.users, live(bson.D{{Key: "_id", Value: id}}))
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return findOne[models.User](ctx, s.users, bson.D{{Key: "email", Value: strings.ToLower(email)}})
}

func (s *MongoStore) CountUsers(ctx context.Context) (int, error) {
	n, err := s.users.CountDocuments(ctx, bson.D{})
	return int(n), err
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return findAll[models.User](ctx, s.users, live(bson.D{}), options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
}

func (s *MongoStore) SoftDeleteUser(ctx context.Context, id string) (bool, error) {
	return s.softDelete(ctx, s.users, bson.D{{Key: "_id", Value: id}})
}

// questions

func (s *MongoStore) InsertQuestion(ctx context.Context, q *models.Question) error {
	return insertMapped(ctx, s.questions, q)
}

func (s *MongoStore) UpdateQuestion(ctx context.Context, q *models.Question) (bool, error) {
	set := bson.D{
		{Key: "title", Value: q.Title},
		{Key: "type", Value: q.Type},
		{Key: "options", Value: q.Options},
		{Key: "validation", Value: q.Validation},
		{Key: "updated_at", Value: q.UpdatedAt.UTC()},
	}
	res, err := s.questions.UpdateOne(ctx, live(bson.D{{Key: "_id", Value: q.ID}}), bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	return findOne[models.Question](ctx, s.questions, live(bson.D{{Key: "_id", Value: id}}))
}

func (s *MongoStore) ListQuestions(ctx context.Context) ([]*models.Question, error) {
	return findAll[models.Question](ctx, s.questions, live(bson.D{}), options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
}

func (s *MongoStore) SoftDeleteQuestion(ctx context.Context, id string) (bool, error) {
	return s.softDelete(ctx, s.questions, bson.D{{Key: "_id", Value: id}})
}

// forms

func normalizeForm(f *models.Form) *models.Form {
	if f == nil {
		return nil
	}
	if f.Questions == nil {
		f.Questions = []models.FormQuestion{}
	}
	if f.AssignedUsers == nil {
		f.AssignedUsers = []string{}
	}
	return f
}

func (s *MongoStore) InsertForm(ctx context.Context, f *models.Form) error {
	return insertMapped(ctx, s.forms, normalizeForm(f))
}

// UpdateForm rewrites the definition and leaves is_active alone.
func (s *MongoStore) UpdateForm(ctx context.Context, f *models.Form) (bool, error) {
	normalizeForm(f)
	set := bson.D{
		{Key: "title", Value: f.Title},
		{Key: "description", Value: f.Description},
		{Key: "mode", Value: f.Mode},
		{Key: "questions", Value: f.Questions},
		{Key: "assigned_users", Value: f.AssignedUsers},
		{Key: "updated_at", Value: f.UpdatedAt.UTC()},
	}
	res, err := s.forms.UpdateOne(ctx, live(bson.D{{Key: "_id", Value: f.ID}}), bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) GetForm(ctx context.Context, id string) (*models.Form, error) {
	f, err := findOne[models.Form](ctx, s.forms, live(bson.D{{Key: "_id", Value: id}}))
	return normalizeForm(f), err
}

func (s *MongoStore) ListForms(ctx context.Context) ([]*models.Form, error) {
	forms, err := findAll[models.Form](ctx, s.forms, live(bson.D{}), options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	for _, f := range forms {
		normalizeForm(f)
	}
	return forms, err
}

func (s *MongoStore) SoftDeleteForm(ctx context.Context, id string) (bool, error) {
	res, err := s.forms.UpdateOne(ctx, live(bson.D{{Key: "_id", Value: id}}),
		bson.D{{Key: "$set", Value: bson.D{{Key: "deleted", Value: true}, {Key: "is_active", Value: false}}}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

var errNoMatch = errors.New("no matching document")

// withTx runs fn inside a session transaction.
func (s *MongoStore) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *MongoStore) SetFormActive(ctx context.Context, id string, active, exclusive bool) (bool, error) {
	err := s.withTx(ctx, func(ctx context.Context) error {
		if exclusive {
			if _, err := s.forms.UpdateMany(ctx,
				bson.D{{Key: "is_active", Value: true}, {Key: "_id", Value: bson.D{{Key: "$ne", Value: id}}}},
				bson.D{{Key: "$set", Value: bson.D{{Key: "is_active", Value: false}}}}); err != nil {
				return err
			}
		}
		res, err := s.forms.UpdateOne(ctx, live(bson.D{{Key: "_id", Value: id}}),
			bson.D{{Key: "$set", Value: bson.D{{Key: "is_active", Value: active}}}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return errNoMatch
		}
		return nil
	})
	if errors.Is(err, errNoMatch) {
		return false, nil
	}
	return err == nil, err
}

// responses

func draftFilter(formID, userID string) bson.D {
	return live(bson.D{{Key: "form_id", Value: formID}, {Key: "user_id", Value: userID}, {Key: "is_draft", Value: true}})
}

func (s *MongoStore) GetDraft(ctx context.Context, formID, userID string) (*models.Response, error) {
	d, err := findOne[responseDoc](ctx, s.responses, draftFilter(formID, userID))
	if d == nil || err != nil {
		return nil, err
	}
	return d.model(), nil
}

func (s *MongoStore) UpsertDraft(ctx context.Context, r *models.Response) (*models.Response, error) {
	doc := toResponseDoc(r)
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "answers", Value: doc.Answers}, {Key: "last_modified", Value: doc.LastModified}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "_id", Value: doc.ID}, {Key: "day_key", Value: ""}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var out responseDoc
	if err := s.responses.FindOneAndUpdate(ctx, draftFilter(r.FormID, r.UserID), update, opts).Decode(&out); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, services.ErrDuplicate
		}
		return nil, err
	}
	return out.model(), nil
}

func (s *MongoStore) SoftDeleteDraft(ctx context.Context, formID, userID string) (bool, error) {
	res, err := s.responses.UpdateMany(ctx, draftFilter(formID, userID), bson.D{{Key: "$set", Value: bson.D{{Key: "deleted", Value: true}}}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func finalFilter() bson.D {
	return live(bson.D{{Key: "is_draft", Value: false}})
}

func (s *MongoStore) HasFinalResponse(ctx context.Context, formID, userID string, window *models.TimeWindow) (bool, error) {
	filter := append(finalFilter(), bson.E{Key: "form_id", Value: formID}, bson.E{Key: "user_id", Value: userID})
	if window != nil {
		filter = append(filter, bson.E{Key: "submitted_at", Value: bson.D{
			{Key: "$gte", Value: window.From.UTC()},
			{Key: "$lte", Value: window.To.UTC()},
		}})
	}
	n, err := s.responses.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	return n > 0, err
}

func (s *MongoStore) FinalizeResponse(ctx context.Context, r *models.Response) error {
	doc := toResponseDoc(r)
	doc.IsDraft = false
	doc.Deleted = false
	err := s.withTx(ctx, func(ctx context.Context) error {
		if _, err := s.responses.UpdateMany(ctx, draftFilter(r.FormID, r.UserID),
			bson.D{{Key: "$set", Value: bson.D{{Key: "deleted", Value: true}}}}); err != nil {
			return err
		}
		_, err := s.responses.InsertOne(ctx, doc)
		return err
	})
	if mongo.IsDuplicateKeyError(err) {
		return services.ErrDuplicate
	}
	return err
}

func (s *MongoStore) SoftDeleteResponse(ctx context.Context, id string) (bool, error) {
	return s.softDelete(ctx, s.responses, bson.D{{Key: "_id", Value: id}, {Key: "is_draft", Value: false}})
}

func (s *MongoStore) listResponses(ctx context.Context, filter bson.D) ([]*models.Response, error) {
	docs, err := findAll[responseDoc](ctx, s.responses, filter, options.Find().SetSort(bson.D{{Key: "submitted_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := make([]*models.Response, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *MongoStore) ListResponsesByUser(ctx context.Context, userID string) ([]*models.Response, error) {
	return s.listResponses(ctx, append(finalFilter(), bson.E{Key: "user_id", Value: userID}))
}

func (s *MongoStore) ListFinalResponses(ctx context.Context, formID string) ([]*models.Response, error) {
	return s.listResponses(ctx, append(finalFilter(), bson.E{Key: "form_id", Value: formID}))
}

// audit log

func (s *MongoStore) AddAudit(ctx context.Context, e models.AuditEntry) error {
	e.Time = e.Time.UTC()
	_, err := s.audit.InsertOne(ctx, e)
	return err
}

// ListAudit sorts on the generated ObjectID, which follows insertion order.
func (s *MongoStore) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	entries, err := findAll[models.AuditEntry](ctx, s.audit, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	out := make([]models.AuditEntry, 0, len(entries))
	for _, e := range entries {
		e.Time = e.Time.UTC()
		out = append(out, *e)
	}
	return out, nil
}
