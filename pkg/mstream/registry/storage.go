package registry

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/makarski/mstream/pkg/mstream/config"
	"github.com/makarski/mstream/pkg/mstream/merr"
)

// Storage is the pluggable persistence layer for service definitions,
// matching original_source/src/provision/registry/mod.rs's
// ServiceLifecycleStorage trait.
type Storage interface {
	Save(ctx context.Context, svc config.Service) error
	Remove(ctx context.Context, name string) (bool, error)
	GetByName(ctx context.Context, name string) (config.Service, error)
	GetAll(ctx context.Context) ([]config.Service, error)
}

// InMemoryStorage is a process-local Storage, grounded on
// original_source/src/provision/registry/in_memory.rs.
type InMemoryStorage struct {
	mu       sync.RWMutex
	services map[string]config.Service
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{services: map[string]config.Service{}}
}

func (s *InMemoryStorage) Save(_ context.Context, svc config.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.Name] = svc
	return nil
}

func (s *InMemoryStorage) Remove(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[name]; !ok {
		return false, nil
	}
	delete(s.services, name)
	return true, nil
}

func (s *InMemoryStorage) GetByName(_ context.Context, name string) (config.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[name]
	if !ok {
		return config.Service{}, merr.JobLifecycleError(merr.SubUnknownService, "service with name '%s' not found", name)
	}
	return svc, nil
}

func (s *InMemoryStorage) GetAll(_ context.Context) ([]config.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	return out, nil
}

// MongoDBStorage persists service definitions to a MongoDB collection,
// transparently encrypting the whole service definition when an Encryptor is
// configured. Grounded on
// original_source/src/provision/registry/mongodb_storage.rs.
type MongoDBStorage struct {
	Collection *mongo.Collection
	Encryptor  *Encryptor
}

// serviceDoc is the on-the-wire shape: the service definition is stored
// either plaintext in Raw (no Encryptor) or as one encrypted
// {enc_data, enc_nonce} pair.
type serviceDoc struct {
	Name     string        `bson:"_id"`
	Raw      config.Service `bson:"raw,omitempty"`
	EncData  []byte        `bson:"enc_data,omitempty"`
	EncNonce []byte        `bson:"enc_nonce,omitempty"`
}

func (s *MongoDBStorage) Save(ctx context.Context, svc config.Service) error {
	doc, err := s.encodeDoc(svc)
	if err != nil {
		return err
	}
	_, err = s.Collection.ReplaceOne(ctx,
		bson.M{"_id": svc.Name}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return merr.ConfigError("save service %s: %v", svc.Name, err)
	}
	return nil
}

func (s *MongoDBStorage) Remove(ctx context.Context, name string) (bool, error) {
	res, err := s.Collection.DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return false, merr.ConfigError("remove service %s: %v", name, err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoDBStorage) GetByName(ctx context.Context, name string) (config.Service, error) {
	var doc serviceDoc
	err := s.Collection.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return config.Service{}, merr.JobLifecycleError(merr.SubUnknownService, "service with name '%s' not found", name)
	}
	if err != nil {
		return config.Service{}, merr.ConfigError("get service %s: %v", name, err)
	}
	return s.decodeDoc(doc)
}

func (s *MongoDBStorage) GetAll(ctx context.Context) ([]config.Service, error) {
	cur, err := s.Collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, merr.ConfigError("list services: %v", err)
	}
	defer cur.Close(ctx)

	var out []config.Service
	for cur.Next(ctx) {
		var doc serviceDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, merr.ConfigError("decode service doc: %v", err)
		}
		svc, err := s.decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}

func (s *MongoDBStorage) encodeDoc(svc config.Service) (serviceDoc, error) {
	if s.Encryptor == nil {
		return serviceDoc{Name: svc.Name, Raw: svc}, nil
	}
	plain, err := bson.Marshal(svc)
	if err != nil {
		return serviceDoc{}, merr.ConfigError("marshal service %s: %v", svc.Name, err)
	}
	enc, err := s.Encryptor.Encrypt(plain)
	if err != nil {
		return serviceDoc{}, merr.ConfigError("encrypt service %s: %v", svc.Name, err)
	}
	return serviceDoc{Name: svc.Name, EncData: enc.Data, EncNonce: enc.Nonce}, nil
}

func (s *MongoDBStorage) decodeDoc(doc serviceDoc) (config.Service, error) {
	if s.Encryptor == nil || doc.EncData == nil {
		return doc.Raw, nil
	}
	plain, err := s.Encryptor.Decrypt(doc.EncNonce, doc.EncData)
	if err != nil {
		return config.Service{}, merr.ConfigError("decrypt service %s: %v", doc.Name, err)
	}
	var svc config.Service
	if err := bson.Unmarshal(plain, &svc); err != nil {
		return config.Service{}, merr.ConfigError("unmarshal decrypted service %s: %v", doc.Name, err)
	}
	return svc, nil
}
