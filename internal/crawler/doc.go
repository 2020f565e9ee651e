// Package crawler defines the core types shared across the crawl pipeline: URL tasks and their
// lifecycle, fetch requests and responses, extraction settings, the error taxonomy, and the
// collaborator interfaces implemented by fetchers, stores, and publishers.
package crawler
