package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/21tmccauley/stat-tracker/models"
)

// MongoStorage is a struct representing a MongoDB storage backend.
// It provides an interface to perform the key-value style operations the
// completion workflow needs on the habits, completions and users tables.
type MongoStorage struct {
	client *mongo.Client
	dbName string
	tables Tables
}

// NewMongoStorage creates a new instance of MongoStorage for the given table
// names. This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned instance.
func NewMongoStorage(tables Tables) *MongoStorage {
	return &MongoStorage{tables: tables}
}

// Connect establishes a connection to the MongoDB server at the given URI and
// database name, and sets up the indexes the workflow relies on. The unique
// compound index on completions is what gives AddCompletion its
// create-if-absent semantics.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {

	// Set a timeout for the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %v", err)
	}

	m.client = client
	m.dbName = dbName

	// Initializing the habits table.
	habitsCollection := m.client.Database(m.dbName).Collection(m.tables.Habits)

	// Create a compound index on the "user_id" and "habit_id" fields.
	// The (user_id, habit_id) pair uniquely identifies a habit.
	userIDHabitIDIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1}, // 1 for ascending order
			{Key: "habit_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = habitsCollection.Indexes().CreateOne(ctx, userIDHabitIDIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id and habit_id index: %v", err)
	}

	// Initializing the completions table.
	completionsCollection := m.client.Database(m.dbName).Collection(m.tables.Completions)

	// Create a compound index on the "user_id" and "day_key" fields.
	// This enforces the at-most-one-completion-per-day invariant: a second
	// insert for the same (user_id, day_key) pair fails with a duplicate key
	// error instead of silently creating a second record.
	userIDDayKeyIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "day_key", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = completionsCollection.Indexes().CreateOne(ctx, userIDDayKeyIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id and day_key index: %v", err)
	}

	// Initializing the users table.
	usersCollection := m.client.Database(m.dbName).Collection(m.tables.Users)

	// Create an index on the "user_id" field. One progress record per user.
	userIDIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"user_id": 1,
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = usersCollection.Indexes().CreateOne(ctx, userIDIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id index: %v", err)
	}

	// Initializing the notifications table.
	notificationsCollection := m.client.Database(m.dbName).Collection(m.tables.Notifications)

	// Create an index on the "user_id" field to speed up per-user listings.
	notificationUserIDIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"user_id": 1,
		},
		Options: options.Index(),
	}

	_, err = notificationsCollection.Indexes().CreateOne(ctx, notificationUserIDIndexModel)
	if err != nil {
		return fmt.Errorf("error creating notification user_id index: %v", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %v", err)
	}

	return nil
}

// isDuplicateKey reports whether err is a MongoDB unique index violation.
func isDuplicateKey(err error) bool {
	if writeException, ok := err.(mongo.WriteException); ok {
		for _, writeError := range writeException.WriteErrors {
			if writeError.Code == 11000 {
				return true
			}
		}
	}
	return false
}

// AddHabit adds a new habit record to the habits table.
// Returns an error if the insert operation fails.
func (m *MongoStorage) AddHabit(ctx context.Context, habit *models.Habit) error {
	collection := m.client.Database(m.dbName).Collection(m.tables.Habits)
	_, err := collection.InsertOne(ctx, habit)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("a habit with id '%s' already exists for the user", habit.HabitID)
		}
		return err
	}
	return nil
}

// GetHabit fetches a habit record by its (userID, habitID) key pair.
// Returns a nil habit with a nil error when the key is absent.
func (m *MongoStorage) GetHabit(ctx context.Context, userID, habitID string) (*models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection(m.tables.Habits)
	result := collection.FindOne(ctx, bson.M{"user_id": userID, "habit_id": habitID})
	habit := &models.Habit{}
	err := result.Decode(habit)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return habit, nil
}

// FindHabitsByUser finds all habit records belonging to a user.
// Returns the found habits as a slice of Habit instances and an error if the
// find operation fails.
func (m *MongoStorage) FindHabitsByUser(ctx context.Context, userID string) ([]models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection(m.tables.Habits)
	cursor, err := collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var habits []models.Habit
	for cursor.Next(ctx) {
		var habit models.Habit
		err := cursor.Decode(&habit)
		if err != nil {
			return nil, err
		}
		habits = append(habits, habit)
	}

	return habits, nil
}

// DeleteHabit deletes a habit record by its (userID, habitID) key pair.
// Returns the result of the delete operation as a DeleteResult instance and
// an error if the delete operation fails.
func (m *MongoStorage) DeleteHabit(ctx context.Context, userID, habitID string) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection(m.tables.Habits)
	result, err := collection.DeleteOne(ctx, bson.M{"user_id": userID, "habit_id": habitID})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// GetCompletion fetches a completion record by its (userID, dayKey) key pair.
// Returns a nil completion with a nil error when the key is absent.
func (m *MongoStorage) GetCompletion(ctx context.Context, userID, dayKey string) (*models.Completion, error) {
	collection := m.client.Database(m.dbName).Collection(m.tables.Completions)
	result := collection.FindOne(ctx, bson.M{"user_id": userID, "day_key": dayKey})
	completion := &models.Completion{}
	err := result.Decode(completion)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return completion, nil
}

// AddCompletion inserts a completion record with create-if-absent semantics.
// The unique (user_id, day_key) index turns a concurrent double-insert into
// ErrCompletionExists, so two racing completions can never both succeed.
func (m *MongoStorage) AddCompletion(ctx context.Context, completion *models.Completion) error {
	collection := m.client.Database(m.dbName).Collection(m.tables.Completions)
	_, err := collection.InsertOne(ctx, completion)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrCompletionExists
		}
		return err
	}
	return nil
}

// GetProgress fetches the progress record for a user.
// Returns a nil record with a nil error when the user has no progress yet.
func (m *MongoStorage) GetProgress(ctx context.Context, userID string) (*models.UserProgress, error) {
	collection := m.client.Database(m.dbName).Collection(m.tables.Users)
	result := collection.FindOne(ctx, bson.M{"user_id": userID})
	progress := &models.UserProgress{}
	err := result.Decode(progress)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// PutProgress writes a full progress record, replacing any existing record
// for the same user.
func (m *MongoStorage) PutProgress(ctx context.Context, progress *models.UserProgress) error {
	collection := m.client.Database(m.dbName).Collection(m.tables.Users)
	_, err := collection.ReplaceOne(
		ctx,
		bson.M{"user_id": progress.UserID},
		progress,
		options.Replace().SetUpsert(true),
	)
	return err
}

// ApplyReward atomically adds xp to a user's total and recomputes the level
// from the post-increment total inside the same update, creating the record
// if it does not exist. Doing the level recompute inside the update closes
// the staleness window between the increment and a level computed from a
// pre-increment snapshot.
func (m *MongoStorage) ApplyReward(ctx context.Context, userID string, xp int) error {
	collection := m.client.Database(m.dbName).Collection(m.tables.Users)
	now := time.Now().UTC()

	// An aggregation pipeline update runs both stages atomically on the
	// server: the first stage increments total_xp, the second derives level
	// from the already-incremented total.
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"user_id":    userID,
			"total_xp":   bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$total_xp", 0}}, xp}},
			"stats":      bson.M{"$ifNull": bson.A{"$stats", bson.M{}}},
			"created_at": bson.M{"$ifNull": bson.A{"$created_at", now}},
			"updated_at": now,
		}}},
		{{Key: "$set", Value: bson.M{
			"level": bson.M{"$toInt": bson.M{"$add": bson.A{
				bson.M{"$floor": bson.M{"$divide": bson.A{"$total_xp", 100}}},
				1,
			}}},
		}}},
	}

	_, err := collection.UpdateOne(
		ctx,
		bson.M{"user_id": userID},
		pipeline,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("error applying reward: %v", err)
	}
	return nil
}

// AddNotification adds a level-up notification record to the notifications
// table.
func (m *MongoStorage) AddNotification(ctx context.Context, notification *models.Notification) error {
	collection := m.client.Database(m.dbName).Collection(m.tables.Notifications)
	_, err := collection.InsertOne(ctx, notification)
	return err
}

// FindNotificationsByUser finds all notification records belonging to a user,
// newest first.
func (m *MongoStorage) FindNotificationsByUser(ctx context.Context, userID string) ([]models.Notification, error) {
	collection := m.client.Database(m.dbName).Collection(m.tables.Notifications)
	findOptions := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := collection.Find(ctx, bson.M{"user_id": userID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var notifications []models.Notification
	for cursor.Next(ctx) {
		var notification models.Notification
		err := cursor.Decode(&notification)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notification)
	}

	return notifications, nil
}
