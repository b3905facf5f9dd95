// Package redis connects to the Redis instance holding the model registry.
//
// JSONStore keeps one JSON document per key under a prefix:
//
//	store := redis.NewJSONStore[model.Model](client, "models")
//	err := store.Put(ctx, "proj:us-central1:tensorflow:champion", &m, 0)
package redis
