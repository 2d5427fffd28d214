/*
Package buckets provisions the object-storage buckets the workload needs
before any process plan is applied.

Provisioner.Ensure is idempotent. For every configured bucket it checks
existence, creates the bucket when absent, and waits (bounded by
WaitTimeout) until the bucket is visible. It then replaces the lifecycle
configuration of the log bucket with LifecyclePolicyFor(ttl): a single rule
named "ttl" expiring objects after ttl days, or no rules at all when ttl is
zero.

S3Storage is the production Storage and works against AWS S3 and Minio
through aws-sdk-go-v2. A HEAD that answers 404 means the bucket is absent; a
301 redirect means it exists in another region. Every other failure is
returned so the reconciler can report it.
*/
package buckets
