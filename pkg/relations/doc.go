/*
Package relations delivers facts from a directory of YAML files.

Each fact kind has one file, named after the kind:

	peer.yaml       ready: true
	database.yaml   endpoints: "db-0:5432,db-1:5432", username, password, database
	minio.yaml      service, namespace, port, secure, access-key, secret-key
	s3.yaml         endpoint, region, bucket, path, s3-uri-style, access-key, secret-key

Removing a file clears the fact. Connections are normalized on load: a minio
service becomes its in-cluster URL, s3 endpoints lose trailing slashes and
AWS endpoints are rewritten to the regional host.
*/
package relations
