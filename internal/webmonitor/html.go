package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Bottle Inspection Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Bottle Inspection Monitor</div>
            <span class="badge badge-secondary" id="conn-badge">disconnected</span>
        </div>

        <div class="grid">
            <div class="panel">
                <h2>Live line</h2>
                <p class="panel-subtitle" id="stream-url">--</p>
                <div class="stat-grid">
                    <div class="stat">
                        <span class="stat-label">Bottles processed</span>
                        <span class="stat-value" id="processed">0</span>
                        <span class="stat-sub" id="offset">offset 0</span>
                    </div>
                    <div class="stat">
                        <span class="stat-label">PASS / FAIL</span>
                        <span class="stat-value"><span id="pass">0</span> / <span id="fail">0</span></span>
                        <span class="stat-sub" id="alerts">0 alerts</span>
                    </div>
                </div>
                <div class="actions">
                    <button type="button" id="btn-connect">Connect</button>
                    <button type="button" id="btn-disconnect">Disconnect</button>
                    <button type="button" id="btn-clear">Clear</button>
                </div>
                <p class="footer-note" id="last-error"></p>
            </div>

            <div class="panel">
                <h2>System</h2>
                <p class="panel-subtitle">Inspection line power</p>
                <div class="actions">
                    <button type="button" id="btn-power">Turn on</button>
                    <span class="badge badge-secondary" id="power-badge">off</span>
                </div>
                <h2>Recording</h2>
                <div class="actions">
                    <button type="button" id="btn-rec">Start recording</button>
                    <span class="stat-sub" id="rec-status">idle</span>
                </div>
            </div>

            <div class="panel wide">
                <h2>Inspection log</h2>
                <div class="list" id="event-log"></div>
            </div>

            <div class="panel">
                <h2>Single-shot analysis</h2>
                <form id="analyze-form">
                    <select id="model">
                        <option value="nivell">Level model</option>
                        <option value="tap">Tap model</option>
                    </select>
                    <input type="file" id="file" accept="image/*">
                    <button type="submit" id="btn-analyze">Analyze</button>
                </form>
                <div id="analyze-result" class="result"></div>
            </div>

            <div class="panel">
                <h2>History</h2>
                <div class="actions"><button type="button" id="btn-history-clear">Clear history</button></div>
                <div class="list" id="history"></div>
            </div>
        </div>
    </div>

    <script>
    (function () {
        var ALERT_LABELS = ['low', 'full', 'tap_missing'];
        var MAX_ROWS = 200;
        var state = { on: false, recording: false };

        function $(id) { return document.getElementById(id); }

        function isAlerting(label) {
            return ALERT_LABELS.indexOf(String(label || '').toLowerCase()) >= 0;
        }

        function post(path) {
            return fetch(path, { method: 'POST' }).then(function (r) { return r.json(); });
        }

        function renderStatus(st) {
            $('conn-badge').textContent = st.state;
            $('conn-badge').className = 'badge ' + (st.state === 'connected' ? 'badge-success' : 'badge-secondary');
            $('stream-url').textContent = st.url || '--';
            $('processed').textContent = st.bottles_processed;
            $('offset').textContent = 'offset ' + st.offset;
            $('pass').textContent = st.pass_count;
            $('fail').textContent = st.fail_count;
            $('alerts').textContent = st.alert_count + ' alerts';
            $('last-error').textContent = st.last_error || '';
        }

        function eventRow(e) {
            var row = document.createElement('div');
            var alert = isAlerting(e.tap.label) || isAlerting(e.level.label);
            row.className = 'item ' + (e.status === 'PASS' ? 'pass' : 'fail') + (alert ? ' alert' : '');
            row.textContent = '#' + e.bottle_id + '  ' + e.status +
                '  tap=' + e.tap.label + ' (' + Math.round(e.tap.confidence * 100) + '%)' +
                '  level=' + e.level.label + ' (' + Math.round(e.level.confidence * 100) + '%)' +
                '  ' + e.timestamp;
            return row;
        }

        function renderLog(events) {
            var log = $('event-log');
            log.innerHTML = '';
            (events || []).forEach(function (e) { log.appendChild(eventRow(e)); });
        }

        function refresh() {
            fetch('/api/monitor/status').then(function (r) { return r.json(); }).then(function (st) {
                renderStatus(st);
                renderLog(st.events);
            });
        }

        function onUpdate(u) {
            if (u.kind === 'event' && u.event) {
                var log = $('event-log');
                log.insertBefore(eventRow(u.event), log.firstChild);
                while (log.children.length > MAX_ROWS) { log.removeChild(log.lastChild); }
            }
            if (u.kind === 'clear') { $('event-log').innerHTML = ''; }
            fetch('/api/monitor/status?limit=1').then(function (r) { return r.json(); }).then(renderStatus);
        }

        var source = new EventSource('/api/monitor/stream');
        source.onmessage = function (msg) { onUpdate(JSON.parse(msg.data)); };

        $('btn-connect').onclick = function () { post('/api/monitor/connect').then(renderStatus); };
        $('btn-disconnect').onclick = function () { post('/api/monitor/disconnect').then(renderStatus); };
        $('btn-clear').onclick = function () { post('/api/monitor/clear').then(function (st) { renderStatus(st); renderLog(st.events); }); };

        function renderPower(p) {
            state.on = p.is_on;
            $('power-badge').textContent = p.is_on ? 'on' : 'off';
            $('btn-power').textContent = p.is_on ? 'Turn off' : 'Turn on';
            $('btn-power').disabled = p.loading;
        }
        $('btn-power').onclick = function () {
            $('btn-power').disabled = true;
            post('/api/system/toggle').then(renderPower);
        };

        function renderRecording(r) {
            state.recording = r.recording;
            $('btn-rec').textContent = r.recording ? 'Stop recording' : 'Start recording';
            $('rec-status').textContent = r.recording ? (r.filename + ' (' + r.event_count + ')') : 'idle';
        }
        $('btn-rec').onclick = function () {
            post(state.recording ? '/api/recording/stop' : '/api/recording/start').then(function () {
                fetch('/api/recording/status').then(function (r) { return r.json(); }).then(renderRecording);
            });
        };

        function renderHistory(h) {
            var list = $('history');
            list.innerHTML = '';
            (h.items || []).forEach(function (item) {
                var row = document.createElement('div');
                row.className = 'item';
                if (item.imagePreview) {
                    var img = document.createElement('img');
                    img.src = item.imagePreview;
                    img.className = 'thumb';
                    row.appendChild(img);
                }
                row.appendChild(document.createTextNode(item.model + ': ' + item.label + ' (' +
                    Math.round(item.confidence * 100) + '%, ' + item.responseTime + 'ms) ' + item.imageName));
                list.appendChild(row);
            });
        }
        function loadHistory() {
            fetch('/api/history').then(function (r) { return r.ok ? r.json() : { items: [] }; }).then(renderHistory);
        }
        $('btn-history-clear').onclick = function () {
            fetch('/api/history', { method: 'DELETE' }).then(loadHistory);
        };

        $('analyze-form').onsubmit = function (ev) {
            ev.preventDefault();
            var file = $('file').files[0];
            if (!file) { return; }
            var form = new FormData();
            form.append('file', file);
            $('btn-analyze').disabled = true;
            $('analyze-result').textContent = 'Analyzing...';
            fetch('/api/analyze/' + $('model').value, { method: 'POST', body: form })
                .then(function (r) { return r.json().then(function (body) { return { ok: r.ok, body: body }; }); })
                .then(function (res) {
                    if (!res.ok) {
                        $('analyze-result').textContent = 'Analysis error: ' + res.body.error;
                        return;
                    }
                    var r = res.body;
                    $('analyze-result').textContent = r.label + ' (' + Math.round(r.confidence * 100) + '%) in ' + r.responseTime + 'ms';
                    loadHistory();
                })
                .catch(function (err) { $('analyze-result').textContent = 'Analysis error: ' + err; })
                .then(function () { $('btn-analyze').disabled = false; });
        };

        refresh();
        loadHistory();
        fetch('/api/system/status').then(function (r) { return r.json(); }).then(renderPower);
        fetch('/api/recording/status').then(function (r) { return r.json(); }).then(renderRecording);
    })();
    </script>
</body>
</html>
`

const monitorCSS = `
body { margin: 0; font-family: system-ui, sans-serif; background: #0f172a; color: #e2e8f0; }
.app { max-width: 1200px; margin: 0 auto; padding: 16px; }
.header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 16px; }
.title { font-size: 22px; font-weight: 600; }
.grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(320px, 1fr)); gap: 16px; }
.panel { background: #1e293b; border-radius: 8px; padding: 16px; }
.panel.wide { grid-column: 1 / -1; }
.panel h2 { margin: 0 0 4px; font-size: 16px; }
.panel-subtitle, .stat-sub, .footer-note { color: #94a3b8; font-size: 12px; }
.stat-grid { display: grid; grid-template-columns: 1fr 1fr; gap: 12px; margin: 12px 0; }
.stat { display: flex; flex-direction: column; }
.stat-label { font-size: 12px; color: #94a3b8; }
.stat-value { font-size: 28px; font-weight: 700; }
.actions { display: flex; gap: 8px; align-items: center; margin: 8px 0; }
.badge { padding: 2px 8px; border-radius: 999px; font-size: 12px; }
.badge-secondary { background: #475569; }
.badge-success { background: #16a34a; }
.list { max-height: 420px; overflow-y: auto; font-family: monospace; font-size: 12px; }
.item { padding: 4px 6px; border-bottom: 1px solid #334155; display: flex; gap: 8px; align-items: center; }
.item.pass { color: #86efac; }
.item.fail { color: #fca5a5; }
.item.alert { background: rgba(220, 38, 38, 0.2); }
.thumb { width: 40px; height: 40px; object-fit: cover; border-radius: 4px; }
.result { margin-top: 8px; }
`
